package inference

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type upload struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

// fakeEndpoint stands in for the classifier's /predict route.
type fakeEndpoint struct {
	mu      sync.Mutex
	status  int
	body    string
	uploads []upload
}

func (f *fakeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	for field, headers := range r.MultipartForm.File {
		for _, h := range headers {
			file, err := h.Open()
			if err != nil {
				continue
			}
			data, _ := io.ReadAll(file)
			file.Close()
			f.uploads = append(f.uploads, upload{
				field:       field,
				filename:    h.Filename,
				contentType: h.Header.Get("Content-Type"),
				data:        data,
			})
		}
	}
	status, body := f.status, f.body
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func newEndpoint(t *testing.T, status int, body string) (*fakeEndpoint, *Client) {
	t.Helper()
	ep := &fakeEndpoint{status: status, body: body}

	r := chi.NewRouter()
	r.Post("/predict", ep.handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return ep, NewClient(srv.URL+"/predict", 5*time.Second)
}

func TestStatusForClass(t *testing.T) {
	if StatusForClass(0) != StatusSafe {
		t.Fatal("class 0 must be safe")
	}
	for _, id := range []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 42, math.MaxInt32} {
		if StatusForClass(id) != StatusDistracted {
			t.Errorf("class %d must be distracted", id)
		}
		if StatusForClass(id) != StatusForClass(id) {
			t.Errorf("mapping for %d is not deterministic", id)
		}
	}
}

func TestInferRoundTrip(t *testing.T) {
	ep, client := newEndpoint(t, http.StatusOK, `{"class_id": 0, "label": "Safe Driving", "confidence": 0.82}`)

	img := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	res, err := client.Infer(context.Background(), Media{Filename: "frame.jpg", ContentType: "image/jpeg", Data: img})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Label != "Safe Driving" {
		t.Errorf("expected label Safe Driving, got %q", res.Label)
	}
	if res.Status != StatusSafe {
		t.Errorf("expected safe, got %s", res.Status)
	}
	if res.Confidence == nil || *res.Confidence != 0.82 {
		t.Errorf("expected confidence 0.82, got %v", res.Confidence)
	}
	if res.ReceivedAt.IsZero() {
		t.Error("expected receive timestamp")
	}

	if len(ep.uploads) != 1 {
		t.Fatalf("expected one uploaded part, got %d", len(ep.uploads))
	}
	up := ep.uploads[0]
	if up.field != "file" {
		t.Errorf("expected form field file, got %q", up.field)
	}
	if up.filename != "frame.jpg" {
		t.Errorf("expected filename frame.jpg, got %q", up.filename)
	}
	if up.contentType != "image/jpeg" {
		t.Errorf("expected part type image/jpeg, got %q", up.contentType)
	}
	if !bytes.Equal(up.data, img) {
		t.Error("uploaded bytes mismatch")
	}
}

func TestInferDistractedWithoutConfidence(t *testing.T) {
	_, client := newEndpoint(t, http.StatusOK, `{"class_id": 3, "label": "c3: Texting (Left)", "confidence": null}`)

	res, err := client.Infer(context.Background(), Media{Filename: "a.png", ContentType: "image/png", Data: []byte("x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusDistracted {
		t.Errorf("expected distracted, got %s", res.Status)
	}
	if res.Confidence != nil {
		t.Errorf("expected nil confidence, got %v", *res.Confidence)
	}
	if res.ClassID != 3 {
		t.Errorf("expected class 3, got %d", res.ClassID)
	}
}

func TestInferMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing class_id", `{"label": "Safe Driving", "confidence": 0.82}`},
		{"null class_id", `{"class_id": null, "label": "Safe Driving"}`},
		{"string class_id", `{"class_id": "0", "label": "Safe Driving"}`},
		{"fractional class_id", `{"class_id": 1.5, "label": "x"}`},
		{"negative class_id", `{"class_id": -1, "label": "x"}`},
		{"missing label", `{"class_id": 0}`},
		{"empty label", `{"class_id": 0, "label": ""}`},
		{"numeric label", `{"class_id": 0, "label": 7}`},
		{"string confidence", `{"class_id": 0, "label": "x", "confidence": "high"}`},
		{"endpoint error payload", `{"error": "File must be an image"}`},
		{"not json", `<html>oops</html>`},
		{"json array", `[0, "Safe Driving"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newEndpoint(t, http.StatusOK, tt.body)

			res, err := client.Infer(context.Background(), Media{Filename: "a.jpg", ContentType: "image/jpeg", Data: []byte("x")})
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("expected ErrMalformedResponse, got %v", err)
			}
			if res != nil {
				t.Error("no result may be emitted for a malformed response")
			}
		})
	}
}

func TestInferEndpointErrorMessageIsKept(t *testing.T) {
	_, err := ParseResponse([]byte(`{"error": "Invalid image"}`))
	if err == nil || !strings.Contains(err.Error(), "Invalid image") {
		t.Fatalf("expected endpoint message in error, got %v", err)
	}
}

func TestInferBackendError(t *testing.T) {
	_, client := newEndpoint(t, http.StatusInternalServerError, `{"detail": "model not loaded"}`)

	_, err := client.Infer(context.Background(), Media{Filename: "a.jpg", ContentType: "image/jpeg", Data: []byte("x")})
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BackendError, got %T", err)
	}
	if be.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", be.StatusCode)
	}
	if !strings.Contains(be.Body, "model not loaded") {
		t.Errorf("expected body excerpt, got %q", be.Body)
	}
	if errors.Is(err, ErrMalformedResponse) {
		t.Error("backend errors are not malformed responses")
	}
}

func TestInferTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/predict"
	srv.Close()

	_, err := NewClient(url, time.Second).Infer(context.Background(), Media{Data: []byte("x")})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
	if errors.Is(err, ErrBackend) || errors.Is(err, ErrMalformedResponse) {
		t.Errorf("transport failures should not be classified as %v", err)
	}
	if outcome(err) != "transport_error" {
		t.Errorf("unexpected outcome label %q", outcome(err))
	}
}

func TestInferHonoursContext(t *testing.T) {
	release := make(chan struct{})
	r := chi.NewRouter()
	r.Post("/predict", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL+"/predict", 5*time.Second).Infer(WithMode(ctx, ModeFrame), Media{Data: []byte("x")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestModeFromContext(t *testing.T) {
	if modeFrom(context.Background()) != ModeImage {
		t.Error("untagged requests default to image mode")
	}
	if modeFrom(WithMode(context.Background(), ModeFrame)) != ModeFrame {
		t.Error("expected frame mode")
	}
}

func TestStatusText(t *testing.T) {
	if StatusSafe.String() != "safe" || StatusDistracted.String() != "distracted" {
		t.Error("unexpected status names")
	}
	text, _ := StatusDistracted.MarshalText()
	if string(text) != "distracted" {
		t.Errorf("unexpected text %q", text)
	}
}
