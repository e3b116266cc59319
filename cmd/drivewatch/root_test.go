package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kdimtricp/drivewatch/internal/inference"
)

func TestFormatResult(t *testing.T) {
	conf := 0.82
	at := time.Date(2024, 1, 1, 9, 30, 15, 0, time.UTC)

	tests := []struct {
		name string
		res  *inference.Result
		want string
	}{
		{
			name: "safe with confidence",
			res:  &inference.Result{Label: "Safe Driving", Status: inference.StatusSafe, Confidence: &conf, ReceivedAt: at},
			want: "[09:30:15] SAFE       Safe Driving (82.0%)",
		},
		{
			name: "distracted without confidence",
			res:  &inference.Result{Label: "c3: Texting (Left)", Status: inference.StatusDistracted, ReceivedAt: at},
			want: "[09:30:15] DISTRACTED c3: Texting (Left) (n/a)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatResult(tt.res); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestResolveConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PREDICT_URL", "http://env.example/predict")
	t.Setenv("SAMPLE_INTERVAL", "2s")

	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--interval", "250ms"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}

	var f flagValues
	f.interval = 250 * time.Millisecond
	cfg, err := resolveConfig(cmd, &f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.PredictURL != "http://env.example/predict" {
		t.Errorf("expected env endpoint, got %q", cfg.PredictURL)
	}
	if cfg.SampleInterval != 250*time.Millisecond {
		t.Errorf("expected flag interval, got %v", cfg.SampleInterval)
	}
}

func TestRunAnalyzesImage(t *testing.T) {
	var uploads atomic.Int32
	r := chi.NewRouter()
	r.Post("/predict", func(w http.ResponseWriter, r *http.Request) {
		uploads.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"class_id": 0, "label": "Safe Driving", "confidence": 0.82}`)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "cab.png")
	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}

	t.Setenv("PREVIEW_DIR", filepath.Join(dir, "previews"))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path, "--predict-url", srv.URL + "/predict"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("command failed: %v", err)
	}

	if n := uploads.Load(); n != 1 {
		t.Errorf("expected one upload, got %d", n)
	}
	if !strings.Contains(out.String(), "SAFE       Safe Driving (82.0%)") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRunRejectsUnsupportedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	os.WriteFile(path, []byte("hello"), 0644)
	t.Setenv("PREVIEW_DIR", filepath.Join(dir, "previews"))

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{path})

	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error for a text file")
	}
}

func TestCheckCommand(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/predict", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if _, h, err := r.FormFile("file"); err != nil || h.Filename != "frame.jpg" {
			http.Error(w, "missing frame", http.StatusBadRequest)
			return
		}
		io.WriteString(w, `{"class_id": 9, "label": "c9: Talking to passenger", "confidence": null}`)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	t.Setenv("PREDICT_URL", srv.URL+"/predict")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("check failed: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "OK") || !strings.Contains(out.String(), "DISTRACTED") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestCheckCommandReportsBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	t.Setenv("PREDICT_URL", srv.URL+"/predict")

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"check"})

	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected failure for an unhealthy endpoint")
	}
}

func TestCheckRejectsInvalidEnv(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	t.Setenv("PREDICT_URL", srv.URL+"/predict")
	t.Setenv("MAX_UPLOAD_SIZE", "0")

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"check"})

	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "max_upload_size") {
		t.Fatalf("expected max_upload_size error, got %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("endpoint must not be called with invalid config, got %d calls", n)
	}
}
