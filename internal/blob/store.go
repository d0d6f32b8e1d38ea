package blob

import (
	"context"
	"io"
)

// ObjectInfo is the subset of object metadata the transfer logic needs.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// PutOptions selects the upload strategy.
type PutOptions struct {
	ContentType string
	// Multipart uploads in PartSize chunks with Concurrency parallel parts;
	// otherwise the object is sent in a single request.
	Multipart   bool
	PartSize    uint64
	Concurrency int
}

// ObjectStore is the remote blob store. Implementations return errors
// wrapping ErrObjectNotFound for missing objects and do their own retrying.
type ObjectStore interface {
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	// Get reads length bytes starting at offset; length <= 0 reads to the end.
	Get(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) error
}
