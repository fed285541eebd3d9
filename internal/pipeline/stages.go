package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/crawl"
)

// ValidateStage drops records missing the fields every persisted article
// must carry.
type ValidateStage struct{}

// NewValidate builds a ValidateStage.
func NewValidate() *ValidateStage { return &ValidateStage{} }

// Name implements Stage.
func (*ValidateStage) Name() string { return "validate" }

// Process rejects records with an empty title, content, or URL.
func (*ValidateStage) Process(_ context.Context, article *crawl.Article) error {
	switch {
	case strings.TrimSpace(article.Title) == "":
		return fmt.Errorf("missing title: %w", crawl.ErrDropped)
	case strings.TrimSpace(article.Content) == "":
		return fmt.Errorf("missing content: %w", crawl.ErrDropped)
	case strings.TrimSpace(article.URL) == "":
		return fmt.Errorf("missing url: %w", crawl.ErrDropped)
	}
	return nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// CleanStage trims text fields, collapses content whitespace, and clamps
// counters so downstream sinks always see well-formed values.
type CleanStage struct{}

// NewClean builds a CleanStage.
func NewClean() *CleanStage { return &CleanStage{} }

// Name implements Stage.
func (*CleanStage) Name() string { return "clean" }

// Process normalizes the record in place.
func (*CleanStage) Process(_ context.Context, article *crawl.Article) error {
	article.Title = strings.TrimSpace(article.Title)
	article.Author = strings.TrimSpace(article.Author)
	article.Digest = strings.TrimSpace(article.Digest)
	article.Description = strings.TrimSpace(article.Description)
	article.Content = whitespaceRe.ReplaceAllString(strings.TrimSpace(article.Content), " ")
	article.ReadCount = clampNonNegative(article.ReadCount)
	article.LikeCount = clampNonNegative(article.LikeCount)
	article.CommentCnt = clampNonNegative(article.CommentCnt)
	return nil
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// StoreStage inserts the record into the document store with first-write-wins
// semantics. Duplicates stop the pipeline so the record never reaches the
// search index twice.
type StoreStage struct {
	store crawl.DocumentStore
}

// NewStore builds a StoreStage.
func NewStore(store crawl.DocumentStore) *StoreStage {
	return &StoreStage{store: store}
}

// Name implements Stage.
func (*StoreStage) Name() string { return "docstore" }

// Process inserts the article or reports the duplicate.
func (s *StoreStage) Process(ctx context.Context, article *crawl.Article) error {
	if err := s.store.Insert(ctx, *article); err != nil {
		if errors.Is(err, crawl.ErrDuplicate) {
			return fmt.Errorf("article %s: %w", article.ArticleID, crawl.ErrDuplicate)
		}
		return fmt.Errorf("insert article %s: %w", article.ArticleID, err)
	}
	return nil
}

// IndexStage upserts the record into the search index. Index failures are
// logged and swallowed: the index can be rebuilt from the document store.
type IndexStage struct {
	index  crawl.SearchIndex
	logger *zap.Logger
}

// NewIndex builds an IndexStage.
func NewIndex(index crawl.SearchIndex, logger *zap.Logger) *IndexStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexStage{index: index, logger: logger}
}

// Name implements Stage.
func (*IndexStage) Name() string { return "searchindex" }

// Process upserts into the index, never failing the pipeline.
func (s *IndexStage) Process(ctx context.Context, article *crawl.Article) error {
	if err := s.index.Upsert(ctx, *article); err != nil {
		s.logger.Warn("search index upsert failed",
			zap.String("article_id", article.ArticleID),
			zap.Error(err),
		)
	}
	return nil
}

// AnnounceEvent is the payload published for every persisted article.
type AnnounceEvent struct {
	ArticleID   string    `json:"article_id"`
	AccountName string    `json:"account_name"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
	CrawlTime   time.Time `json:"crawl_time"`
}

// AnnounceStage publishes a persisted-article event. Best effort: publish
// failures are logged and swallowed.
type AnnounceStage struct {
	publisher crawl.Publisher
	topic     string
	logger    *zap.Logger
}

// NewAnnounce builds an AnnounceStage.
func NewAnnounce(publisher crawl.Publisher, topic string, logger *zap.Logger) *AnnounceStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnnounceStage{publisher: publisher, topic: topic, logger: logger}
}

// Name implements Stage.
func (*AnnounceStage) Name() string { return "announce" }

// Process publishes the event for the persisted article.
func (s *AnnounceStage) Process(ctx context.Context, article *crawl.Article) error {
	if s.publisher == nil {
		return nil
	}
	event := AnnounceEvent{
		ArticleID:   article.ArticleID,
		AccountName: article.AccountName,
		Title:       article.Title,
		URL:         article.URL,
		SnapshotURI: article.SnapshotURI,
		CrawlTime:   article.CrawlTime,
	}
	if _, err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		s.logger.Warn("article announce failed",
			zap.String("article_id", article.ArticleID),
			zap.Error(err),
		)
	}
	return nil
}
