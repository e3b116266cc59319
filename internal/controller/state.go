package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kdimtricp/drivewatch/internal/inference"
	"github.com/kdimtricp/drivewatch/internal/media"
	"github.com/kdimtricp/drivewatch/internal/sampler"
)

var (
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrAnalysisInProgress = errors.New("analysis already in progress")
	ErrClosed             = errors.New("controller closed")
)

type State int

const (
	StateIdle State = iota
	StateReadyImage
	StateReadyVideoPaused
	StateReadyVideoAnalyzing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadyImage:
		return "ready_image"
	case StateReadyVideoPaused:
		return "ready_video_paused"
	case StateReadyVideoAnalyzing:
		return "ready_video_analyzing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a copy of what a display needs to render.
type Snapshot struct {
	State       State             `json:"state"`
	Kind        media.Kind        `json:"kind"`
	ItemID      string            `json:"item_id,omitempty"`
	Name        string            `json:"name,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Analyzing   bool              `json:"analyzing"`
	Playing     bool              `json:"playing"`
	SessionID   string            `json:"session_id,omitempty"`
	Result      *inference.Result `json:"result"`
	// Version increases with every change; listeners never see it go back.
	Version uint64 `json:"version"`
}

type Ingester interface {
	Ingest(ctx context.Context, f media.File) (*media.Item, error)
}

type Inferrer interface {
	Infer(ctx context.Context, m inference.Media) (*inference.Result, error)
}

type FrameCapturer interface {
	Capture(ctx context.Context, src sampler.Source) (*sampler.EncodedImage, error)
}

// SurfaceOpener prepares a playable surface for a freshly ingested video.
type SurfaceOpener func(ctx context.Context, item *media.Item) (sampler.Surface, error)

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFunc func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Hooks let a host react to changes. Both run outside the controller lock.
// OnChange calls are serialized and arrive in Version order; a snapshot
// overtaken by a newer one is not delivered. OnChange must not call back
// into methods that change the controller.
type Hooks struct {
	OnChange func(Snapshot)
	OnAlert  func(message string)
}

type Options struct {
	SampleInterval time.Duration
	// RequestTimeout bounds each frame inference; image analysis uses the
	// caller's context instead.
	RequestTimeout   time.Duration
	DropStaleResults bool
	OpenSurface      SurfaceOpener
	NewTicker        TickerFunc
	Hooks            Hooks
}

// PlayerOpener opens storage-backed video previews with ffmpeg.
func PlayerOpener(cfg sampler.PlayerConfig) SurfaceOpener {
	return func(ctx context.Context, item *media.Item) (sampler.Surface, error) {
		vp, ok := item.Preview.(*media.VideoPreview)
		if !ok {
			return nil, fmt.Errorf("item %s has no video preview", item.ID)
		}
		path, err := vp.Path()
		if err != nil {
			return nil, err
		}
		return sampler.OpenPlayer(ctx, path, cfg)
	}
}
