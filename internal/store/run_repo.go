package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

// CrawlRun models the crawl_runs table for API responses.
type CrawlRun struct {
	// ID is the run identifier (UUIDv7, primary key).
	ID uuid.UUID
	// AccountName is the public account the run crawled.
	AccountName string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked completed/error.
	FinishedAt *time.Time
	// Status is running/completed/error.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	// Crawled is the last reported persisted-article count.
	Crawled int
	// Total is the source-reported article count.
	Total int
}

// RunRepository persists crawl run lifecycle and progress counters.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) the run row as running.
	StartRun(ctx context.Context, runID uuid.UUID, account string, startedAt time.Time) error
	// UpdateProgress applies the latest crawled/total counters.
	UpdateProgress(ctx context.Context, runID uuid.UUID, crawled, total int) error
	// FinishRun marks the run finished with the provided status and error.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (CrawlRun, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]CrawlRun, error)
}
