package listing

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Detector decides whether a headless re-fetch is warranted for a page.
type Detector interface {
	ShouldPromote(probe Page) bool
}

// Enricher collects detail-page metadata for one record.
type Enricher interface {
	Enrich(ctx context.Context, detailURL string) (Metadata, error)
}

// DocumentStore writes a result document and returns a URI.
type DocumentStore interface {
	PutDocument(ctx context.Context, name string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for output integrity.
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
