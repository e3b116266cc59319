package media

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrPreviewReleased      = errors.New("preview already released")
)

// Kind is the class of the active selection.
type Kind int

const (
	KindNone Kind = iota
	KindImage
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	default:
		return "none"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// File is a user selection as handed over by a host (HTTP upload, CLI path).
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Item is the active selection owned by the controller.
type Item struct {
	ID          string
	Kind        Kind
	Name        string
	ContentType string
	Size        int64
	Preview     Preview

	// Data holds the original bytes for images; videos live in storage.
	Data []byte
}

// DetectKind classifies a file by its declared media type. Content is only
// sniffed when nothing useful was declared.
func DetectKind(declared string, content []byte) (Kind, string, error) {
	contentType := normalizeType(declared)
	if (contentType == "" || contentType == "application/octet-stream") && len(content) > 0 {
		contentType = normalizeType(mimetype.Detect(content).String())
	}

	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindImage, contentType, nil
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo, contentType, nil
	default:
		if contentType == "" {
			contentType = "unknown"
		}
		return KindNone, contentType, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, contentType)
	}
}

func normalizeType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(ct); err == nil {
		return parsed
	}
	return strings.ToLower(ct)
}
