package storage

import (
	"io"
)

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Storage parks uploaded media bytes for the lifetime of a preview handle.
type Storage interface {
	SaveFile(r io.Reader, info FileInfo) (string, error)
	OpenFile(name string) (io.ReadSeekCloser, error)
	DeleteFile(name string) error
	FilePath(name string) (string, error)
}
