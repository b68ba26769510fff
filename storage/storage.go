package storage

import (
	"context"
	"io"
	"time"
)

// Object describes one stored file. Path is slash-separated and relative to
// the backend root.
type Object struct {
	Path        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Storage is a flat, path-keyed file store. Implementations reject paths
// that leave their root.
type Storage interface {
	Upload(ctx context.Context, path string, r io.Reader) error
	// Download fails with a NOT_FOUND AppError for missing paths. The caller
	// closes the reader.
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete is a no-op for missing paths.
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	// List returns objects under prefix ordered by path.
	List(ctx context.Context, prefix string) ([]Object, error)
}
