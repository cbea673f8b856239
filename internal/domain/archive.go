package domain

import (
	"context"
	"io"
)

// ArchiveWriter stores settlement artifacts. Objects are write-once: a
// second PutOnce for the same key fails with ErrAlreadyExists.
type ArchiveWriter interface {
	PutOnce(ctx context.Context, key string, data []byte, contentType string) error
}

// ArchiveReader reads archived settlement artifacts. Open returns
// ErrNotFound for a missing key.
type ArchiveReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}
