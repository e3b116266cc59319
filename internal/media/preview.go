package media

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/kdimtricp/drivewatch/internal/metrics"
	"github.com/kdimtricp/drivewatch/internal/storage"
)

// Preview is a renderable handle for the active selection.
type Preview interface {
	ID() string
	Kind() Kind
	ContentType() string
	Open() (io.ReadSeekCloser, error)
	Release() error
}

// ImagePreview is an in-memory data URL; releasing it frees nothing.
type ImagePreview struct {
	id          string
	contentType string
	dataURL     string
	data        []byte
	Width       int
	Height      int
}

func (p *ImagePreview) ID() string          { return p.id }
func (p *ImagePreview) Kind() Kind          { return KindImage }
func (p *ImagePreview) ContentType() string { return p.contentType }
func (p *ImagePreview) DataURL() string     { return p.dataURL }

func (p *ImagePreview) Open() (io.ReadSeekCloser, error) {
	return nopCloser{bytes.NewReader(p.data)}, nil
}

func (p *ImagePreview) Release() error { return nil }

// VideoPreview references the original bytes parked in storage. Release
// revokes it by deleting the stored file, once.
type VideoPreview struct {
	id          string
	name        string
	contentType string
	store       storage.Storage

	mu       sync.Mutex
	released bool
}

func newVideoPreview(id, name, contentType string, store storage.Storage) *VideoPreview {
	metrics.PreviewHandlesOpen.Inc()
	return &VideoPreview{id: id, name: name, contentType: contentType, store: store}
}

func (p *VideoPreview) ID() string          { return p.id }
func (p *VideoPreview) Kind() Kind          { return KindVideo }
func (p *VideoPreview) ContentType() string { return p.contentType }

// Path returns the on-disk location of the video for decoders like ffmpeg.
func (p *VideoPreview) Path() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return "", ErrPreviewReleased
	}
	return p.store.FilePath(p.name)
}

func (p *VideoPreview) Open() (io.ReadSeekCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, ErrPreviewReleased
	}
	return p.store.OpenFile(p.name)
}

func (p *VideoPreview) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func (p *VideoPreview) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrPreviewReleased
	}
	p.released = true
	metrics.PreviewHandlesOpen.Dec()

	if err := p.store.DeleteFile(p.name); err != nil {
		return fmt.Errorf("failed to release preview %s: %w", p.id, err)
	}
	return nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
