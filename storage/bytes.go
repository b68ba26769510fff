package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// ObjectInfo is the part of Object the byte client exposes.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ByteClient moves whole files as byte slices. Generated files are small
// and already in memory, so streaming buys nothing here.
type ByteClient interface {
	Upload(ctx context.Context, path string, data []byte) error
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// NewByteClient wraps s. Uploads above maxSize bytes fail; maxSize <= 0
// means no limit.
func NewByteClient(s Storage, maxSize int64) ByteClient {
	return &byteClient{Storage: s, maxSize: maxSize}
}

type byteClient struct {
	Storage
	maxSize int64
}

func (c *byteClient) Upload(ctx context.Context, path string, data []byte) error {
	if c.maxSize > 0 && int64(len(data)) > c.maxSize {
		return fmt.Errorf("storage: %s is %d bytes, limit is %d", path, len(data), c.maxSize)
	}
	return c.Storage.Upload(ctx, path, bytes.NewReader(data))
}

func (c *byteClient) Download(ctx context.Context, path string) ([]byte, error) {
	rc, err := c.Storage.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (c *byteClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objs, err := c.Storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]ObjectInfo, 0, len(objs))
	for _, o := range objs {
		out = append(out, ObjectInfo{Key: o.Path, Size: o.Size})
	}
	return out, nil
}
