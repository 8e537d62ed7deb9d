package crawler

import (
	"context"
	"io"
)

// Fetcher fetches a URL and returns the body plus metadata. Non-2xx responses
// are returned as pages; only transport failures are errors.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Walker streams the entity stubs of one collection onto out in traversal
// order. It never closes out.
type Walker interface {
	Discover(ctx context.Context, out chan<- EntityStub) error
}

// RecordSink persists completed records. Write is only ever called from a
// single goroutine; Close flushes whatever the sink buffered.
type RecordSink interface {
	Write(ctx context.Context, record EntityRecord) error
	Close(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
