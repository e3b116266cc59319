// Package controller owns the active media selection and drives analysis:
// one-shot inference for images, periodic frame sampling for videos.
//
// All mutation happens under one mutex. Network calls, frame captures and
// resource teardown run outside it, so a slow endpoint never blocks a
// transition. Responses are applied last-writer-wins unless
// Options.DropStaleResults is set.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kdimtricp/drivewatch/internal/inference"
	"github.com/kdimtricp/drivewatch/internal/logging"
	"github.com/kdimtricp/drivewatch/internal/media"
	"github.com/kdimtricp/drivewatch/internal/metrics"
	"github.com/kdimtricp/drivewatch/internal/sampler"
)

const (
	DefaultSampleInterval = 500 * time.Millisecond
	DefaultRequestTimeout = 30 * time.Second

	imageFailedAlert = "Failed to analyze image"
)

type Controller struct {
	ingester Ingester
	inferrer Inferrer
	capturer FrameCapturer
	opts     Options

	baseCtx    context.Context
	cancelBase context.CancelFunc
	inflight   sync.WaitGroup

	mu        sync.Mutex
	state     State
	item      *media.Item
	itemGen   uint64
	surface   sampler.Surface
	session   *session
	result    *inference.Result
	analyzing bool
	closed    bool
	version   uint64

	emitMu  sync.Mutex
	emitted uint64
}

func New(ingester Ingester, inferrer Inferrer, capturer FrameCapturer, opts Options) *Controller {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.OpenSurface == nil {
		opts.OpenSurface = PlayerOpener(sampler.PlayerConfig{})
	}
	if opts.NewTicker == nil {
		opts.NewTicker = newTimeTicker
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		ingester:   ingester,
		inferrer:   inferrer,
		capturer:   capturer,
		opts:       opts,
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

// SelectFile makes f the active item. Whatever was active before is torn
// down: its session stops, its preview is released and its result cleared.
// Unsupported files leave the current selection untouched.
func (c *Controller) SelectFile(ctx context.Context, f media.File) (*media.Item, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	item, err := c.ingester.Ingest(ctx, f)
	if err != nil {
		logging.Warn("[CTRL] Rejected %q: %v", f.Name, err)
		return nil, err
	}

	var surface sampler.Surface
	if item.Kind == media.KindVideo {
		surface, err = c.opts.OpenSurface(ctx, item)
		if err != nil {
			releasePreview(item)
			return nil, fmt.Errorf("failed to open video: %w", err)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if surface != nil {
			surface.Close()
		}
		releasePreview(item)
		return nil, ErrClosed
	}

	cleanup := c.detachLocked()
	c.item = item
	c.surface = surface
	if item.Kind == media.KindVideo {
		c.state = StateReadyVideoPaused
	} else {
		c.state = StateReadyImage
	}
	snap := c.changedLocked()
	c.mu.Unlock()

	cleanup()
	logging.Info("[CTRL] Selected %s %q (%s)", item.Kind, item.Name, item.ID)
	c.emit(snap)

	return item, nil
}

// Analyze runs one inference on the selected image. On failure the user
// gets a single alert and the selection stays ready for a retry.
func (c *Controller) Analyze(ctx context.Context) (*inference.Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state != StateReadyImage {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: analyze while %s", ErrInvalidTransition, state)
	}
	if c.analyzing {
		c.mu.Unlock()
		return nil, ErrAnalysisInProgress
	}
	c.analyzing = true
	gen := c.itemGen
	item := c.item
	snap := c.changedLocked()
	c.mu.Unlock()
	c.emit(snap)

	res, err := c.inferrer.Infer(inference.WithMode(ctx, inference.ModeImage), inference.Media{
		Filename:    item.Name,
		ContentType: item.ContentType,
		Data:        item.Data,
	})

	c.mu.Lock()
	current := !c.closed && c.itemGen == gen
	if current {
		c.analyzing = false
		if err == nil {
			c.result = res
		}
	}
	snap = c.changedLocked()
	c.mu.Unlock()

	if !current {
		if err == nil {
			metrics.ResultsDroppedTotal.WithLabelValues("superseded").Inc()
		}
		logging.Debug("[CTRL] Image result for %s arrived after the selection changed", item.ID)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	if err != nil {
		c.emit(snap)
		if errors.Is(err, context.Canceled) {
			logging.Info("[CTRL] Image analysis for %q canceled by the caller", item.Name)
			return nil, err
		}
		logging.Error("[CTRL] Image analysis failed for %q: %v", item.Name, err)
		c.alert(imageFailedAlert)
		return nil, err
	}

	logging.Info("[CTRL] Image %q classified as %s (%s)", item.Name, res.Status, res.Label)
	c.emit(snap)
	return res, nil
}

// Toggle starts sampling a paused video or pauses a running one.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	switch c.state {
	case StateReadyVideoPaused:
		err := c.startSessionLocked()
		snap := c.changedLocked()
		c.mu.Unlock()
		if err != nil {
			return err
		}
		c.emit(snap)
		return nil

	case StateReadyVideoAnalyzing:
		done := c.stopSessionLocked()
		c.state = StateReadyVideoPaused
		snap := c.changedLocked()
		c.mu.Unlock()

		if done != nil {
			<-done
		}
		c.emit(snap)
		return nil

	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: toggle while %s", ErrInvalidTransition, state)
	}
}

// Reset returns to Idle, releasing everything the active item held.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	cleanup := c.detachLocked()
	c.state = StateIdle
	snap := c.changedLocked()
	c.mu.Unlock()

	cleanup()
	c.emit(snap)
	return nil
}

// Close resets the controller, cancels in-flight requests and waits for
// them to finish. Later calls return ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	cleanup := c.detachLocked()
	c.state = StateIdle
	c.closed = true
	c.mu.Unlock()

	cleanup()
	c.cancelBase()
	c.inflight.Wait()

	logging.Info("[CTRL] Controller closed")
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Analyzing reports whether an image inference is outstanding.
func (c *Controller) Analyzing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analyzing
}

// Item returns the active selection, or nil.
func (c *Controller) Item() *media.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.item
}

// changedLocked records a change and returns the snapshot to emit for it.
func (c *Controller) changedLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:   c.version,
		State:     c.state,
		Kind:      media.KindNone,
		Analyzing: c.analyzing,
		Playing:   c.state == StateReadyVideoAnalyzing,
	}
	if c.item != nil {
		snap.Kind = c.item.Kind
		snap.ItemID = c.item.ID
		snap.Name = c.item.Name
		snap.ContentType = c.item.ContentType
	}
	if c.session != nil {
		snap.SessionID = c.session.id
	}
	if c.result != nil {
		r := *c.result
		snap.Result = &r
	}
	return snap
}

// detachLocked unhooks the active item and returns the teardown to run once
// the lock is released.
func (c *Controller) detachLocked() func() {
	done := c.stopSessionLocked()
	surface := c.surface
	item := c.item

	c.surface = nil
	c.item = nil
	c.result = nil
	c.analyzing = false
	c.itemGen++

	return func() {
		if done != nil {
			<-done
		}
		if surface != nil {
			if err := surface.Close(); err != nil {
				logging.Warn("[CTRL] Failed to close video surface: %v", err)
			}
		}
		if item != nil {
			releasePreview(item)
		}
	}
}

func releasePreview(item *media.Item) {
	if item.Preview == nil {
		return
	}
	if err := item.Preview.Release(); err != nil {
		logging.Warn("[CTRL] Failed to release preview %s: %v", item.Preview.ID(), err)
	}
}

// emit delivers snap unless a newer snapshot already went out. Snapshots
// are built under mu but sent after it is released, so two senders can
// arrive here in either order.
func (c *Controller) emit(snap Snapshot) {
	if c.opts.Hooks.OnChange == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if snap.Version <= c.emitted {
		logging.Debug("[CTRL] Dropped change notification %d, %d already sent", snap.Version, c.emitted)
		return
	}
	c.emitted = snap.Version
	c.opts.Hooks.OnChange(snap)
}

func (c *Controller) alert(msg string) {
	if c.opts.Hooks.OnAlert != nil {
		c.opts.Hooks.OnAlert(msg)
	}
}
