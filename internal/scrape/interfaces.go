package scrape

import (
	"context"
	"time"
)

// Fetcher retrieves a URL and returns the raw content plus metadata. Fetching
// and rendering are external collaborators; the engine never executes pages.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Embedder produces a semantic vector for a piece of text. Embeddings are
// computed by an external provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Publisher pushes extracted-signal events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw fetched content and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// ScrapeStore persists scrape records and content-hash dedup state.
type ScrapeStore interface {
	SaveScrape(ctx context.Context, record ScrapeRecord) error
	GetScrape(ctx context.Context, organizationID, scrapeID string) (ScrapeRecord, error)
	// ObserveContent records a content hash and returns the total times it has
	// been seen inside the dedup horizon, plus whether this one is a duplicate.
	ObserveContent(ctx context.Context, hash string, now time.Time) (int, bool, error)
	FlagForDeletion(ctx context.Context, organizationID, scrapeID string) error
}

// Hasher computes content digests for dedup and integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and scrape IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
