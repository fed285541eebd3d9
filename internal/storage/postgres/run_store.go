// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpharvest/mpharvest/internal/store"
)

// RunStoreConfig controls the Postgres connection pool for run history.
type RunStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type runPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository against the crawl_runs table.
type RunStore struct {
	pool runPool
}

// NewRunStore connects a pool using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool runPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartRun inserts the run row as running. A replayed start event updates the
// status without resetting counters.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, account string, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, account_name, started_at, status, crawled, total)
		VALUES ($1, $2, $3, $4, 0, 0)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE crawl_runs.status <> EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, runID, account, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("insert crawl run: %w", err)
	}
	return nil
}

// UpdateProgress applies the latest crawled/total counters.
func (s *RunStore) UpdateProgress(ctx context.Context, runID uuid.UUID, crawled, total int) error {
	query := `
		UPDATE crawl_runs
		SET crawled = $1, total = $2
		WHERE id = $3;
	`
	if _, err := s.pool.Exec(ctx, query, crawled, total, runID); err != nil {
		return fmt.Errorf("update crawl run progress: %w", err)
	}
	return nil
}

// FinishRun marks the run finished with the provided status and error.
func (s *RunStore) FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus, errMsg *string) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("finish crawl run: %w", err)
	}
	return nil
}

// GetRun loads a single run or returns store.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.CrawlRun, error) {
	query := `
		SELECT id, account_name, started_at, finished_at, status, error_message, crawled, total
		FROM crawl_runs
		WHERE id = $1;
	`
	var run store.CrawlRun
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.AccountName,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
		&run.Crawled,
		&run.Total,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CrawlRun{}, store.ErrNotFound
		}
		return store.CrawlRun{}, fmt.Errorf("get crawl run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves run history, newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.CrawlRun, error) {
	query := `
		SELECT id, account_name, started_at, finished_at, status, error_message, crawled, total
		FROM crawl_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list crawl runs: %w", err)
	}
	defer rows.Close()

	var runs []store.CrawlRun
	for rows.Next() {
		var run store.CrawlRun
		err := rows.Scan(
			&run.ID,
			&run.AccountName,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
			&run.Crawled,
			&run.Total,
		)
		if err != nil {
			return nil, fmt.Errorf("scan crawl run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
