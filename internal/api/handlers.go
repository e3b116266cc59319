package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kdimtricp/drivewatch/internal/controller"
	"github.com/kdimtricp/drivewatch/internal/inference"
	"github.com/kdimtricp/drivewatch/internal/logging"
	"github.com/kdimtricp/drivewatch/internal/media"
)

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

type App struct {
	Controller    *controller.Controller
	Events        *Broadcaster
	MaxUploadSize int64
}

type errorResponse struct {
	Error string `json:"error"`
}

func (app *App) SelectMediaHandler(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > app.MaxUploadSize {
		app.renderError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)

	if err := r.ParseMultipartForm(app.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			app.renderError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		app.renderError(w, http.StatusBadRequest, "Invalid upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		app.renderError(w, http.StatusBadRequest, "Failed to get file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		app.renderError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	_, err = app.Controller.SelectFile(r.Context(), media.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		app.renderControllerError(w, err)
		return
	}

	app.renderJSON(w, http.StatusOK, app.Controller.Snapshot())
}

func (app *App) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	res, err := app.Controller.Analyze(r.Context())
	if err != nil {
		app.renderControllerError(w, err)
		return
	}
	app.renderJSON(w, http.StatusOK, res)
}

func (app *App) ToggleHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Controller.Toggle(r.Context()); err != nil {
		app.renderControllerError(w, err)
		return
	}
	app.renderJSON(w, http.StatusOK, app.Controller.Snapshot())
}

func (app *App) ResetHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Controller.Reset(); err != nil {
		app.renderControllerError(w, err)
		return
	}
	app.renderJSON(w, http.StatusOK, app.Controller.Snapshot())
}

func (app *App) StateHandler(w http.ResponseWriter, r *http.Request) {
	app.renderJSON(w, http.StatusOK, app.Controller.Snapshot())
}

// PreviewHandler serves the active item's bytes. Range requests are handled
// by ServeContent so a player can seek through a video.
func (app *App) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	item := app.Controller.Item()
	if item == nil || item.Preview == nil {
		http.NotFound(w, r)
		return
	}

	content, err := item.Preview.Open()
	if err != nil {
		if errors.Is(err, media.ErrPreviewReleased) {
			http.Error(w, "Preview no longer available", http.StatusGone)
			return
		}
		http.Error(w, "Preview not found", http.StatusNotFound)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", item.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, item.Name, time.Time{}, content)
}

func (app *App) renderControllerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, media.ErrUnsupportedMediaType):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, controller.ErrInvalidTransition),
		errors.Is(err, controller.ErrAnalysisInProgress):
		status = http.StatusConflict
	case errors.Is(err, controller.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, inference.ErrBackend),
		errors.Is(err, inference.ErrMalformedResponse),
		errors.Is(err, inference.ErrTransport):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		logging.Error("[API] %v", err)
	}
	app.renderError(w, status, err.Error())
}

func (app *App) renderError(w http.ResponseWriter, status int, message string) {
	app.renderJSON(w, status, errorResponse{Error: message})
}

func (app *App) renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("[API] Failed to write response: %v", err)
	}
}
