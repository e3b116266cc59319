package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/media", app.SelectMediaHandler)
		r.Post("/analyze", app.AnalyzeHandler)
		r.Post("/toggle", app.ToggleHandler)
		r.Post("/reset", app.ResetHandler)
		r.Get("/state", app.StateHandler)
		r.Get("/preview", app.PreviewHandler)
		r.Get("/events", app.EventsHandler)
	})

	return r
}
