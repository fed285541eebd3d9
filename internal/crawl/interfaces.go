package crawl

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// DocumentStore persists Article records with first-write-wins semantics.
// Insert returns ErrDuplicate when the article_id already exists.
type DocumentStore interface {
	Insert(ctx context.Context, article Article) error
	List(ctx context.Context, query ArticleQuery) (ArticlePage, error)
}

// SearchIndex upserts and searches Article records.
type SearchIndex interface {
	Upsert(ctx context.Context, article Article) error
	Search(ctx context.Context, query string, page, perPage int) (ArticlePage, error)
}

// SnapshotStore writes raw page archives and returns a URI.
type SnapshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes persisted-article events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Policy encapsulates politeness between outbound requests.
type Policy interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for snapshot naming and integrity.
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

// ArticleQuery filters and paginates document-store reads.
type ArticleQuery struct {
	Search  string
	Page    int
	PerPage int
}

// ArticlePage is one page of articles plus pagination metadata.
type ArticlePage struct {
	Articles   []Article `json:"articles"`
	Total      int64     `json:"total"`
	Page       int       `json:"page"`
	PerPage    int       `json:"per_page"`
	TotalPages int64     `json:"total_pages"`
}
