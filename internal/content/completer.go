// Package content completes partial article records by fetching and parsing
// the detail page.
package content

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/crawl"
	"github.com/mpharvest/mpharvest/internal/metrics"
	"github.com/mpharvest/mpharvest/internal/normalize"
)

// contentSelectors are tried in order; the first match is the content node.
var contentSelectors = []string{
	"#js_content",
	".rich_media_content",
	".content",
	"article",
}

// Config controls snapshot archival and request behavior.
type Config struct {
	// SnapshotPrefix is the blob path prefix for archived detail pages.
	SnapshotPrefix string
	// SnapshotContentType is the stored content type for archived pages.
	SnapshotContentType string
	// RequestTimeout bounds one detail-page fetch, headless included.
	RequestTimeout time.Duration
}

// Completer fetches detail pages, optionally promotes to a headless fetch,
// archives the raw HTML, and fills in content, media, and crawl time.
type Completer struct {
	cfg       Config
	probe     crawl.Fetcher
	headless  crawl.Fetcher
	detector  crawl.HeadlessDetector
	snapshots crawl.SnapshotStore
	hasher    crawl.Hasher
	clock     crawl.Clock
	logger    *zap.Logger
}

// New builds a Completer. headless and snapshots may be nil to disable
// promotion and archival respectively.
func New(
	cfg Config,
	probe crawl.Fetcher,
	headless crawl.Fetcher,
	detector crawl.HeadlessDetector,
	snapshots crawl.SnapshotStore,
	hasher crawl.Hasher,
	clock crawl.Clock,
	logger *zap.Logger,
) *Completer {
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "articles"
	}
	if cfg.SnapshotContentType == "" {
		cfg.SnapshotContentType = "text/html; charset=utf-8"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Completer{
		cfg:       cfg,
		probe:     probe,
		headless:  headless,
		detector:  detector,
		snapshots: snapshots,
		hasher:    hasher,
		clock:     clock,
		logger:    logger,
	}
}

// Complete fills article in place from its detail page. Fetch failures are
// non-fatal for the run: the article keeps its listing fields, gets a crawl
// time, and the error is returned so the caller can decide what to forward.
func (c *Completer) Complete(ctx context.Context, runID string, article *crawl.Article) error {
	defer func() {
		article.CrawlTime = c.clock.Now()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.fetch(fetchCtx, article.URL)
	if resp.StatusCode != 0 {
		metrics.ObserveFetch(article.URL, resp.StatusCode, len(resp.Body))
	}
	if err != nil {
		c.logger.Warn("detail fetch failed",
			zap.String("article_id", article.ArticleID),
			zap.String("url", article.URL),
			zap.Error(err),
		)
		return err
	}

	article.SnapshotURI = c.archive(ctx, runID, resp.Body)

	base, _ := url.Parse(article.URL)
	fragment := selectContent(resp.Body)
	if fragment == "" {
		c.logger.Debug("no content node found", zap.String("article_id", article.ArticleID))
		return nil
	}
	doc, err := normalize.FromHTML(fragment, base)
	if err != nil {
		return fmt.Errorf("normalize article %s: %w", article.ArticleID, err)
	}
	article.Content = doc.Text
	article.Images = doc.Images
	article.Videos = doc.Videos
	article.CoverImage = normalize.Resolve(article.CoverImage, base)
	return nil
}

func (c *Completer) fetch(ctx context.Context, pageURL string) (crawl.FetchResponse, error) {
	req := crawl.FetchRequest{URL: pageURL, Headers: detailHeaders()}
	resp, err := c.probe.Fetch(ctx, req)
	if err != nil {
		return crawl.FetchResponse{}, crawl.NewTransportError("detail fetch", err)
	}
	if c.headless != nil && c.detector != nil && c.detector.ShouldPromote(resp) {
		req.UseHeadless = true
		rendered, err := c.headless.Fetch(ctx, req)
		if err != nil {
			// Keep the probe response; a broken renderer should not lose the page.
			c.logger.Warn("headless promotion failed", zap.String("url", pageURL), zap.Error(err))
			return resp, nil
		}
		return rendered, nil
	}
	if resp.StatusCode != http.StatusOK {
		return crawl.FetchResponse{}, crawl.NewProtocolError("detail fetch", resp.StatusCode, "unexpected status")
	}
	return resp, nil
}

func (c *Completer) archive(ctx context.Context, runID string, body []byte) string {
	if c.snapshots == nil || len(body) == 0 {
		return ""
	}
	hash, err := c.hasher.Hash(body)
	if err != nil {
		c.logger.Warn("snapshot hash failed", zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("%s/%s/%s.html", c.cfg.SnapshotPrefix, runID, hash)
	uri, err := c.snapshots.PutObject(ctx, path, c.cfg.SnapshotContentType, body)
	if err != nil {
		c.logger.Warn("snapshot write failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func selectContent(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	for _, selector := range contentSelectors {
		node := doc.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		html, err := goquery.OuterHtml(node)
		if err != nil {
			continue
		}
		return html
	}
	return ""
}

func detailHeaders() http.Header {
	h := http.Header{}
	h.Set("Referer", "https://mp.weixin.qq.com/")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "zh-CN,zh;q=0.8,en-US;q=0.5,en;q=0.3")
	return h
}
