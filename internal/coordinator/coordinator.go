// Package coordinator owns the crawl run lifecycle: one run at a time, paging
// through the listing feed, completing articles, and emitting progress events.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/crawl"
	"github.com/mpharvest/mpharvest/internal/listing"
	"github.com/mpharvest/mpharvest/internal/progress"
)

// Lister resolves accounts and loads listing pages.
type Lister interface {
	FindAccount(ctx context.Context, name string) (crawl.Account, error)
	FetchPage(ctx context.Context, account crawl.Account, cursor crawl.Cursor) (listing.Page, error)
}

// Completer fills an article record from its detail page.
type Completer interface {
	Complete(ctx context.Context, runID string, article *crawl.Article) error
}

// Runner pushes a completed article through the persistence pipeline.
type Runner interface {
	Run(ctx context.Context, article *crawl.Article) error
}

// Events receives progress milestones. *progress.Hub satisfies it.
type Events interface {
	Emit(evt progress.Event)
}

// Config tunes the coordinator.
type Config struct {
	// SourceURL keys the politeness wait for listing requests.
	SourceURL string
	// Workers bounds concurrent detail-page fetches per listing page.
	Workers int
}

// Coordinator serializes crawl runs and tracks a point-in-time snapshot of
// the active (or last) run. All methods are safe for concurrent use.
type Coordinator struct {
	cfg       Config
	lister    Lister
	completer Completer
	pipeline  Runner
	events    Events
	policy    crawl.Policy
	ids       crawl.IDGenerator
	clock     crawl.Clock
	logger    *zap.Logger
	retry     *retryPolicy

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	snapshot crawl.RunSnapshot
}

// New builds a Coordinator. policy may be nil to disable politeness waits.
func New(
	cfg Config,
	lister Lister,
	completer Completer,
	pipeline Runner,
	events Events,
	policy crawl.Policy,
	ids crawl.IDGenerator,
	clock crawl.Clock,
	logger *zap.Logger,
) *Coordinator {
	if cfg.SourceURL == "" {
		cfg.SourceURL = "https://mp.weixin.qq.com"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		lister:    lister,
		completer: completer,
		pipeline:  pipeline,
		events:    events,
		policy:    policy,
		ids:       ids,
		clock:     clock,
		logger:    logger,
		retry:     newRetryPolicy(),
		snapshot:  crawl.RunSnapshot{Status: crawl.RunStatusIdle},
	}
}

// Start launches a crawl for the named account and returns the run ID. It
// returns crawl.ErrAlreadyRunning while a run is in flight. The run detaches
// from ctx; use Cancel to stop it.
func (c *Coordinator) Start(ctx context.Context, accountName string) (string, error) {
	accountName = strings.TrimSpace(accountName)
	if accountName == "" {
		return "", errors.New("account name is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	runID, err := c.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	runUUID, err := uuid.Parse(runID)
	if err != nil {
		return "", fmt.Errorf("parse run id %q: %w", runID, err)
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return "", crawl.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.snapshot = crawl.RunSnapshot{
		RunID:       runID,
		Status:      crawl.RunStatusRunning,
		AccountName: accountName,
		StartedAt:   c.clock.Now(),
	}
	c.mu.Unlock()

	go c.run(runCtx, runUUID, accountName)
	return runID, nil
}

// Cancel stops the active run, if any. It reports whether a run was canceled.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Status returns a copy of the current run snapshot.
func (c *Coordinator) Status() crawl.RunSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *Coordinator) run(ctx context.Context, runUUID uuid.UUID, accountName string) {
	startedAt := c.clock.Now()
	runID := runUUID.String()
	eventID := progress.UUIDToBytes(runUUID)

	defer func() {
		c.mu.Lock()
		c.running = false
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.mu.Unlock()
	}()

	c.events.Emit(progress.Event{
		RunID:   eventID,
		TS:      c.clock.Now(),
		Stage:   progress.StageRunStart,
		Account: accountName,
	})

	account, err := c.lister.FindAccount(ctx, accountName)
	if err != nil {
		c.finish(eventID, accountName, startedAt, err)
		return
	}

	cursor := crawl.Cursor{PageSize: listing.PageSize}
	for {
		if err := ctx.Err(); err != nil {
			c.finish(eventID, accountName, startedAt, err)
			return
		}
		page, err := c.fetchPage(ctx, account, cursor)
		if err != nil {
			c.finish(eventID, accountName, startedAt, err)
			return
		}
		if page.Total > 0 {
			cursor.Total = page.Total
			c.update(func(s *crawl.RunSnapshot) {
				s.TotalCount = page.Total
				s.Progress = progress.Percent(s.CrawledCount, s.TotalCount)
			})
		}
		if len(page.Articles) == 0 {
			break
		}

		c.processPage(ctx, runID, eventID, account, page.Articles)

		cursor.Advance(len(page.Articles))
		if cursor.Done() {
			break
		}
		if cursor.Total == 0 && len(page.Articles) < cursor.PageSize {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		c.finish(eventID, accountName, startedAt, err)
		return
	}

	snap := c.update(func(s *crawl.RunSnapshot) {
		s.Status = crawl.RunStatusCompleted
		s.Progress = 100
	})
	c.events.Emit(progress.Event{
		RunID:    eventID,
		TS:       c.clock.Now(),
		Stage:    progress.StageRunDone,
		Account:  accountName,
		Crawled:  snap.CrawledCount,
		Total:    snap.TotalCount,
		Progress: 100,
		Dur:      c.clock.Now().Sub(startedAt),
	})
	c.logger.Info("crawl run completed",
		zap.String("run_id", runID),
		zap.String("account", accountName),
		zap.Int("crawled", snap.CrawledCount),
		zap.Int("duplicates", snap.DuplicateCnt),
		zap.Int("dropped", snap.DroppedCount),
	)
}

// fetchPage loads one listing page, retrying transport failures with backoff.
func (c *Coordinator) fetchPage(ctx context.Context, account crawl.Account, cursor crawl.Cursor) (listing.Page, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if c.policy != nil {
			if err := c.policy.Wait(ctx, c.cfg.SourceURL); err != nil {
				return listing.Page{}, err
			}
		}
		page, err := c.lister.FetchPage(ctx, account, cursor)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !c.retry.ShouldRetry(err, attempt) {
			return listing.Page{}, lastErr
		}
		c.logger.Warn("listing page fetch failed, retrying",
			zap.Int("begin", cursor.Begin),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, c.retry.Backoff(attempt)); err != nil {
			// Cancellation during backoff outranks the transport failure.
			return listing.Page{}, err
		}
	}
}

// processPage completes and persists the page's articles with a bounded
// worker pool. Failures are per-article; the run keeps going.
func (c *Coordinator) processPage(ctx context.Context, runID string, eventID [16]byte, account crawl.Account, articles []crawl.Article) {
	sem := make(chan struct{}, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := range articles {
		if ctx.Err() != nil {
			break
		}
		article := articles[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.processArticle(ctx, runID, eventID, account, article)
		}()
	}
	wg.Wait()
}

func (c *Coordinator) processArticle(ctx context.Context, runID string, eventID [16]byte, account crawl.Account, article crawl.Article) {
	if c.policy != nil && article.URL != "" {
		if err := c.policy.Wait(ctx, article.URL); err != nil {
			return
		}
	}
	if err := c.completer.Complete(ctx, runID, &article); err != nil {
		// A partial record still carries the listing fields; forward it and
		// let validation decide.
		c.logger.Warn("article completion failed",
			zap.String("article_id", article.ArticleID),
			zap.Error(err),
		)
	}

	err := c.pipeline.Run(ctx, &article)
	switch {
	case err == nil:
		snap := c.update(func(s *crawl.RunSnapshot) {
			s.CrawledCount++
			s.Progress = progress.Percent(s.CrawledCount, s.TotalCount)
		})
		c.events.Emit(progress.Event{
			RunID:    eventID,
			TS:       c.clock.Now(),
			Stage:    progress.StageArticleDone,
			Account:  account.Nickname,
			Title:    article.Title,
			Crawled:  snap.CrawledCount,
			Total:    snap.TotalCount,
			Progress: snap.Progress,
		})
	case errors.Is(err, crawl.ErrDuplicate):
		c.update(func(s *crawl.RunSnapshot) { s.DuplicateCnt++ })
	case errors.Is(err, crawl.ErrDropped):
		c.update(func(s *crawl.RunSnapshot) { s.DroppedCount++ })
	default:
		c.update(func(s *crawl.RunSnapshot) { s.DroppedCount++ })
		c.logger.Warn("article pipeline failed",
			zap.String("article_id", article.ArticleID),
			zap.Error(err),
		)
	}
}

// finish settles a run that did not complete. A canceled run returns to idle
// without emitting anything further; every other cause ends in error with a
// RUN_ERROR event.
func (c *Coordinator) finish(eventID [16]byte, accountName string, startedAt time.Time, cause error) {
	if errors.Is(cause, context.Canceled) {
		c.update(func(s *crawl.RunSnapshot) {
			s.Status = crawl.RunStatusIdle
		})
		c.logger.Info("crawl run canceled", zap.String("account", accountName))
		return
	}
	note := cause.Error()
	snap := c.update(func(s *crawl.RunSnapshot) {
		s.Status = crawl.RunStatusError
	})
	c.events.Emit(progress.Event{
		RunID:    eventID,
		TS:       c.clock.Now(),
		Stage:    progress.StageRunError,
		Account:  accountName,
		Crawled:  snap.CrawledCount,
		Total:    snap.TotalCount,
		Progress: snap.Progress,
		Dur:      c.clock.Now().Sub(startedAt),
		Note:     note,
	})
	c.logger.Error("crawl run failed",
		zap.String("account", accountName),
		zap.String("reason", note),
	)
}

// update applies fn to the snapshot under the lock and returns the result.
func (c *Coordinator) update(fn func(*crawl.RunSnapshot)) crawl.RunSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.snapshot)
	return c.snapshot
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
