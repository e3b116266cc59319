package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/kdimtricp/drivewatch/internal/logging"
	"github.com/kdimtricp/drivewatch/internal/storage"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Ingester turns a selected file into an Item with a preview handle.
type Ingester struct {
	store storage.Storage
}

func NewIngester(store storage.Storage) *Ingester {
	return &Ingester{store: store}
}

// Ingest classifies f and builds its preview. Unsupported types fail with
// ErrUnsupportedMediaType before anything is stored.
func (in *Ingester) Ingest(ctx context.Context, f File) (*Item, error) {
	kind, contentType, err := DetectKind(f.ContentType, f.Data)
	if err != nil {
		return nil, err
	}

	item := &Item{
		ID:          uuid.New().String(),
		Kind:        kind,
		Name:        f.Name,
		ContentType: contentType,
		Size:        int64(len(f.Data)),
	}

	switch kind {
	case KindImage:
		preview, err := readImagePreview(ctx, item.ID, contentType, f.Data)
		if err != nil {
			return nil, err
		}
		item.Preview = preview
		item.Data = f.Data
	case KindVideo:
		preview, err := in.parkVideo(ctx, item.ID, contentType, f)
		if err != nil {
			return nil, err
		}
		item.Preview = preview
	}

	logging.Debug("[MEDIA] Ingested %s %q (%s, %d bytes)", kind, f.Name, contentType, item.Size)
	return item, nil
}

// readImagePreview encodes the data URL off the caller's goroutine so a
// cancelled context returns promptly even for large images.
func readImagePreview(ctx context.Context, id, contentType string, data []byte) (*ImagePreview, error) {
	done := make(chan *ImagePreview, 1)

	go func() {
		preview := &ImagePreview{
			id:          id,
			contentType: contentType,
			data:        data,
			dataURL:     "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
		}
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			preview.Width, preview.Height = cfg.Width, cfg.Height
		}
		done <- preview
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to read image preview: %w", ctx.Err())
	case preview := <-done:
		return preview, nil
	}
}

func (in *Ingester) parkVideo(ctx context.Context, id, contentType string, f File) (*VideoPreview, error) {
	if in.store == nil {
		return nil, fmt.Errorf("no storage configured for video previews")
	}

	name, err := in.store.SaveFile(bytes.NewReader(f.Data), storage.FileInfo{
		Filename:    f.Name,
		ContentType: contentType,
		Size:        int64(len(f.Data)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store video preview: %w", err)
	}

	if err := ctx.Err(); err != nil {
		in.store.DeleteFile(name)
		return nil, fmt.Errorf("failed to store video preview: %w", err)
	}

	return newVideoPreview(id, name, contentType, in.store), nil
}
