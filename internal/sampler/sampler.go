// Package sampler captures stills from a playing video surface and encodes
// them as JPEG for the inference endpoint.
package sampler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// ErrCaptureUnavailable means the source had nothing to capture on this tick.
// Callers skip the tick; it is not a failure.
var ErrCaptureUnavailable = errors.New("frame capture unavailable")

const (
	DefaultQuality = 80
	FrameFilename  = "frame.jpg"
	FrameMediaType = "image/jpeg"
)

// Source is anything that can show its currently displayed frame.
type Source interface {
	Dimensions() (width, height int)
	Snapshot(ctx context.Context) (image.Image, error)
}

// Surface is a playable Source. Play returns a channel that is closed when
// playback reaches its natural end.
type Surface interface {
	Source
	Play() (<-chan struct{}, error)
	Pause() error
	Close() error
}

type EncodedImage struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	CapturedAt  time.Time
}

type Sampler struct {
	quality  int
	maxWidth int
}

// New returns a Sampler encoding at the given JPEG quality. Frames wider
// than maxWidth are downscaled; zero keeps the native size.
func New(quality, maxWidth int) *Sampler {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	if maxWidth < 0 {
		maxWidth = 0
	}
	return &Sampler{quality: quality, maxWidth: maxWidth}
}

// Capture grabs the frame src is showing right now.
func (s *Sampler) Capture(ctx context.Context, src Source) (*EncodedImage, error) {
	if src == nil {
		return nil, ErrCaptureUnavailable
	}

	if w, h := src.Dimensions(); w <= 0 || h <= 0 {
		return nil, ErrCaptureUnavailable
	}

	img, err := src.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, ErrCaptureUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to capture frame: %w", err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, ErrCaptureUnavailable
	}

	if s.maxWidth > 0 && img.Bounds().Dx() > s.maxWidth {
		img = imaging.Resize(img, s.maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	b := img.Bounds()
	return &EncodedImage{
		Data:        buf.Bytes(),
		ContentType: FrameMediaType,
		Width:       b.Dx(),
		Height:      b.Dy(),
		CapturedAt:  time.Now(),
	}, nil
}
