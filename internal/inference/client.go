package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kdimtricp/drivewatch/internal/logging"
	"github.com/kdimtricp/drivewatch/internal/metrics"
)

var (
	ErrBackend           = errors.New("backend error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrTransport         = errors.New("transport error")
)

const (
	formField       = "file"
	maxResponseSize = 1 << 20
	defaultTimeout  = 30 * time.Second
)

// BackendError reports a non-2xx answer from the endpoint.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend error: status %d: %s", e.StatusCode, e.Body)
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

// Client posts one media sample per call to the classifier endpoint. It
// never retries; callers decide what a failure means.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type predictResponse struct {
	ClassID    json.RawMessage `json:"class_id"`
	Label      json.RawMessage `json:"label"`
	Confidence json.RawMessage `json:"confidence"`
	Error      json.RawMessage `json:"error"`
}

func (c *Client) Infer(ctx context.Context, m Media) (*Result, error) {
	mode := string(modeFrom(ctx))
	start := time.Now()

	metrics.InferenceInFlight.Inc()
	defer metrics.InferenceInFlight.Dec()

	result, err := c.infer(ctx, m)
	elapsed := time.Since(start)

	metrics.InferenceDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	metrics.InferenceRequestsTotal.WithLabelValues(mode, outcome(err)).Inc()

	if err != nil {
		logging.Debug("[INFER] %s %s (%d bytes) failed after %v: %v", mode, m.Filename, len(m.Data), elapsed, err)
	} else {
		logging.Debug("[INFER] %s %s (%d bytes) -> class %d in %v", mode, m.Filename, len(m.Data), result.ClassID, elapsed)
	}

	return result, err
}

func (c *Client) infer(ctx context.Context, m Media) (*Result, error) {
	body, contentType, err := buildForm(m)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to make request: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &BackendError{StatusCode: resp.StatusCode, Body: excerpt(data)}
	}

	return ParseResponse(data)
}

func buildForm(m Media) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := m.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := m.Filename
	if filename == "" {
		filename = "upload"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, formField, escapeQuotes(filename)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(m.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

// ParseResponse validates a 2xx body and maps it to a Result.
func ParseResponse(data []byte) (*Result, error) {
	var resp predictResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if isAbsent(resp.ClassID) && !isAbsent(resp.Error) {
		var msg string
		if json.Unmarshal(resp.Error, &msg) != nil {
			msg = string(resp.Error)
		}
		return nil, fmt.Errorf("%w: endpoint reported %q", ErrMalformedResponse, msg)
	}

	classID, err := parseClassID(resp.ClassID)
	if err != nil {
		return nil, err
	}

	var label string
	if isAbsent(resp.Label) {
		return nil, fmt.Errorf("%w: missing label", ErrMalformedResponse)
	}
	if err := json.Unmarshal(resp.Label, &label); err != nil {
		return nil, fmt.Errorf("%w: label is not a string", ErrMalformedResponse)
	}
	if label == "" {
		return nil, fmt.Errorf("%w: empty label", ErrMalformedResponse)
	}

	var confidence *float64
	if !isAbsent(resp.Confidence) {
		var v float64
		if err := json.Unmarshal(resp.Confidence, &v); err != nil {
			return nil, fmt.Errorf("%w: confidence is not a number", ErrMalformedResponse)
		}
		confidence = &v
	}

	return &Result{
		ClassID:    classID,
		Label:      label,
		Status:     StatusForClass(classID),
		Confidence: confidence,
		ReceivedAt: time.Now(),
	}, nil
}

func parseClassID(raw json.RawMessage) (int, error) {
	if isAbsent(raw) {
		return 0, fmt.Errorf("%w: missing class_id", ErrMalformedResponse)
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: class_id is not a number", ErrMalformedResponse)
	}
	if v != math.Trunc(v) || v < 0 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: class_id %v is not a valid class", ErrMalformedResponse, v)
	}
	return int(v), nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBackend):
		return "backend_error"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	default:
		return "error"
	}
}

func excerpt(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
