package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mpharvest/mpharvest/internal/store"
)

func TestStartRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	startedAt := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(runID, "冬日焰火", startedAt, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, runs.StartRun(context.Background(), runID, "冬日焰火", startedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressWritesCounters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(4, 12, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, runs.UpdateProgress(context.Background(), runID, 4, 12))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunRecordsStatusAndError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	finishedAt := time.Unix(1700003600, 0).UTC()
	msg := "listing fetch: transport error"

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(finishedAt, store.RunError, &msg, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, runs.FinishRun(context.Background(), runID, finishedAt, store.RunError, &msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunMapsMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	mock.ExpectQuery("SELECT id, account_name").
		WithArgs(runID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "account_name", "started_at", "finished_at", "status", "error_message", "crawled", "total",
		}))

	_, err = runs.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	startedAt := time.Unix(1700000000, 0).UTC()
	status := store.RunCompleted

	rows := pgxmock.NewRows([]string{
		"id", "account_name", "started_at", "finished_at", "status", "error_message", "crawled", "total",
	}).AddRow(runID, "冬日焰火", startedAt, (*time.Time)(nil), status, (*string)(nil), 7, 7)

	mock.ExpectQuery("SELECT id, account_name").
		WithArgs(&status, 20, 0).
		WillReturnRows(rows)

	out, err := runs.ListRuns(context.Background(), &status, 20, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, runID, out[0].ID)
	require.Equal(t, "冬日焰火", out[0].AccountName)
	require.Equal(t, 7, out[0].Crawled)
	require.Nil(t, out[0].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
