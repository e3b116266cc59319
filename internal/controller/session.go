package controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kdimtricp/drivewatch/internal/inference"
	"github.com/kdimtricp/drivewatch/internal/logging"
	"github.com/kdimtricp/drivewatch/internal/metrics"
	"github.com/kdimtricp/drivewatch/internal/sampler"
)

var errNoSurface = errors.New("no video surface")

// session is one periodic capture run. applied is guarded by Controller.mu.
type session struct {
	id      string
	itemGen uint64
	cancel  context.CancelFunc
	done    chan struct{}
	seq     atomic.Uint64
	applied uint64
	started time.Time
}

func (c *Controller) startSessionLocked() error {
	if c.surface == nil {
		return errNoSurface
	}

	ended, err := c.surface.Play()
	if err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	sess := &session{
		id:      uuid.New().String(),
		itemGen: c.itemGen,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	ticker := c.opts.NewTicker(c.opts.SampleInterval)

	c.session = sess
	c.state = StateReadyVideoAnalyzing
	metrics.SamplingSessionsActive.Inc()

	go c.runSession(ctx, sess, ticker, ended, c.surface)

	logging.Info("[CTRL] Session %s started, sampling every %v", sess.id, c.opts.SampleInterval)
	return nil
}

// stopSessionLocked cancels the running session and pauses playback. The
// returned channel closes once the capture loop has exited; callers wait on
// it after releasing the lock.
func (c *Controller) stopSessionLocked() <-chan struct{} {
	sess := c.session
	if sess == nil {
		return nil
	}
	c.session = nil
	sess.cancel()
	metrics.SamplingSessionsActive.Dec()

	if c.surface != nil {
		if err := c.surface.Pause(); err != nil {
			logging.Warn("[CTRL] Failed to pause playback: %v", err)
		}
	}

	logging.Info("[CTRL] Session %s stopped after %v", sess.id, time.Since(sess.started).Round(time.Millisecond))
	return sess.done
}

func (c *Controller) runSession(ctx context.Context, sess *session, ticker Ticker, ended <-chan struct{}, src sampler.Source) {
	defer close(sess.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ended:
			c.endSession(sess)
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			c.tick(ctx, sess, src)
		}
	}
}

// tick captures one frame and hands it to a dispatch goroutine. Failures
// are logged and the session keeps going.
func (c *Controller) tick(ctx context.Context, sess *session, src sampler.Source) {
	frame, err := c.capturer.Capture(ctx, src)
	if err != nil {
		if errors.Is(err, sampler.ErrCaptureUnavailable) {
			metrics.FrameCapturesTotal.WithLabelValues("unavailable").Inc()
			logging.Debug("[CTRL] Session %s: no frame available yet", sess.id)
			return
		}
		if ctx.Err() != nil {
			return
		}
		metrics.FrameCapturesTotal.WithLabelValues("error").Inc()
		logging.Warn("[CTRL] Session %s: frame capture failed: %v", sess.id, err)
		return
	}
	metrics.FrameCapturesTotal.WithLabelValues("ok").Inc()

	// A pause that landed during the capture wins over the frame.
	if ctx.Err() != nil {
		return
	}

	seq := sess.seq.Add(1)
	c.inflight.Add(1)
	go c.dispatchFrame(sess, seq, frame)
}

func (c *Controller) dispatchFrame(sess *session, seq uint64, frame *sampler.EncodedImage) {
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(c.baseCtx, c.opts.RequestTimeout)
	defer cancel()

	res, err := c.inferrer.Infer(inference.WithMode(ctx, inference.ModeFrame), inference.Media{
		Filename:    sampler.FrameFilename,
		ContentType: frame.ContentType,
		Data:        frame.Data,
	})
	if err != nil {
		if c.baseCtx.Err() == nil {
			logging.Warn("[CTRL] Session %s frame %d: inference failed: %v", sess.id, seq, err)
		}
		return
	}

	c.applyFrameResult(sess, seq, res)
}

func (c *Controller) applyFrameResult(sess *session, seq uint64, res *inference.Result) {
	c.mu.Lock()
	if c.closed || c.itemGen != sess.itemGen {
		c.mu.Unlock()
		metrics.ResultsDroppedTotal.WithLabelValues("superseded").Inc()
		logging.Debug("[CTRL] Session %s frame %d: selection changed, result dropped", sess.id, seq)
		return
	}
	if c.opts.DropStaleResults {
		if c.session != sess {
			c.mu.Unlock()
			metrics.ResultsDroppedTotal.WithLabelValues("stale_session").Inc()
			logging.Debug("[CTRL] Session %s frame %d: session over, result dropped", sess.id, seq)
			return
		}
		if seq < sess.applied {
			c.mu.Unlock()
			metrics.ResultsDroppedTotal.WithLabelValues("out_of_order").Inc()
			logging.Debug("[CTRL] Session %s frame %d: newer frame %d already shown", sess.id, seq, sess.applied)
			return
		}
		sess.applied = seq
	}
	c.result = res
	snap := c.changedLocked()
	c.mu.Unlock()

	logging.Debug("[CTRL] Session %s frame %d: %s (%s)", sess.id, seq, res.Status, res.Label)
	c.emit(snap)
}

// endSession handles the video reaching its natural end.
func (c *Controller) endSession(sess *session) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	c.session = nil
	sess.cancel()
	metrics.SamplingSessionsActive.Dec()
	c.state = StateReadyVideoPaused
	snap := c.changedLocked()
	c.mu.Unlock()

	logging.Info("[CTRL] Session %s ended with the video", sess.id)
	c.emit(snap)
}
