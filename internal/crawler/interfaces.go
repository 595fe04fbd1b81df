package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single HTTP request. Transport failures are returned as
// errors; any HTTP response, including 4xx/5xx, is returned as a FetchResponse.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor pulls resource references out of an HTML page body. Malformed
// markup yields zero or partial references, never an error.
type Extractor interface {
	Extract(body []byte, pageURL string) []Reference
}

// WorkQueue is the frontier as seen by workers.
type WorkQueue interface {
	TryEnqueue(rawURL string, depth int, origin string) bool
	Dequeue() (PendingVisit, DequeueState)
	Done()
}

// ResourceFetcher returns memoized fetch outcomes.
type ResourceFetcher interface {
	Fetch(ctx context.Context, rawURL string, mode FetchMode) CacheEntry
}

// Classifier validates references found on a page.
type Classifier interface {
	Classify(ctx context.Context, ref Reference, from PendingVisit) Classification
	ShouldCrawl(ctx context.Context, ref Reference, from PendingVisit) bool
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher fingerprints report payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces crawl run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
