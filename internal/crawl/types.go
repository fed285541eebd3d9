// Package crawl defines core types shared across subsystems.
package crawl

import (
	"net/http"
	"time"
)

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values reported by the coordinator.
const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
)

// Article is the canonical record produced by the crawl and persisted to the
// document store and the search index. ArticleID is the dedup identity.
type Article struct {
	ArticleID   string    `json:"article_id" bson:"article_id"`
	AccountID   string    `json:"account_id" bson:"account_id"`
	AccountName string    `json:"account_name" bson:"account_name"`
	Title       string    `json:"title" bson:"title"`
	Author      string    `json:"author" bson:"author"`
	Content     string    `json:"content" bson:"content"`
	Digest      string    `json:"digest" bson:"digest"`
	Description string    `json:"description" bson:"description"`
	URL         string    `json:"url" bson:"url"`
	CoverImage  string    `json:"cover_image" bson:"cover_image"`
	PublishTime time.Time `json:"publish_time" bson:"publish_time"`
	CrawlTime   time.Time `json:"crawl_time" bson:"crawl_time"`
	ReadCount   int       `json:"read_count" bson:"read_count"`
	LikeCount   int       `json:"like_count" bson:"like_count"`
	CommentCnt  int       `json:"comment_count" bson:"comment_count"`
	IsOriginal  bool      `json:"is_original" bson:"is_original"`
	Images      []string  `json:"images" bson:"images"`
	Videos      []string  `json:"videos" bson:"videos"`
	Tags        []string  `json:"tags" bson:"tags"`
	Category    string    `json:"category" bson:"category"`
	SourceURL   string    `json:"source_url" bson:"source_url"`
	SnapshotURI string    `json:"snapshot_uri,omitempty" bson:"snapshot_uri,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Account identifies a public account resolved via the source search endpoint.
type Account struct {
	FakeID   string `json:"fakeid"`
	Nickname string `json:"nickname"`
}

// Cursor tracks position in the paginated listing feed. Begin is an article
// offset, not a page number; the source pages by article offset.
type Cursor struct {
	Begin    int
	PageSize int
	Total    int
}

// Advance moves the cursor past the entries just consumed.
func (c *Cursor) Advance(consumed int) {
	c.Begin += consumed
}

// Done reports whether the feed is exhausted. A zero Total means the total is
// not yet known, so the crawl must attempt at least one page.
func (c Cursor) Done() bool {
	return c.Total > 0 && c.Begin >= c.Total
}

// RunSnapshot is a point-in-time view of the coordinator state.
type RunSnapshot struct {
	RunID        string    `json:"run_id,omitempty"`
	Status       RunStatus `json:"status"`
	AccountName  string    `json:"current_account,omitempty"`
	CrawledCount int       `json:"crawled_count"`
	DuplicateCnt int       `json:"duplicate_count"`
	DroppedCount int       `json:"dropped_count"`
	TotalCount   int       `json:"total_count"`
	Progress     float64   `json:"progress"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}
