package crawler

import (
	"context"
	"io"
	"time"
)

// ArticleStore persists article listings.
type ArticleStore interface {
	UpsertListing(ctx context.Context, items []Listing, sourceKey, date string) (UpsertResult, error)
	Query(ctx context.Context, q ArticleQuery) ([]Article, error)
	RetentionSweep(ctx context.Context, days int) (int64, error)
	Stats(ctx context.Context) (StoreStats, error)
}

// BlobStore keeps serialized article bodies. GetObject returns
// ErrObjectNotFound when nothing was stored under path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes run-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Translator maps source-language text to the display language.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for crawl runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a claimed run waiting for a worker.
type QueueItem struct {
	RunID     string
	SourceKey string
	Date      string
	Submitted int64
	// Reply receives the run result once the worker finishes. It may be nil.
	Reply chan<- RunResult
}
