package domain

import (
	"context"
	"io"
)

// BlobWriter stores one object at path, replacing any previous object.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
