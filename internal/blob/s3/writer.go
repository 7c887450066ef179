package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// Writer implements domain.BlobWriter with one PutObject per archive file.
// Payloads are a few hundred KiB at most, far below the single-PUT limit,
// so multipart uploads are never needed.
type Writer struct {
	c *Client
}

// NewWriter creates a Writer for c's bucket and prefix.
func NewWriter(c *Client) *Writer {
	return &Writer{c: c}
}

// Put uploads data under the prefixed key for path. The archive paths are
// immutable, so objects are never overwritten in practice.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	key := w.c.Key(path)
	_, err := w.c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(w.c.bucket),
		Key:          aws.String(key),
		Body:         data,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("no-cache"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BlobWriter = (*Writer)(nil)
