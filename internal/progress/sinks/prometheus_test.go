package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/mpharvest/mpharvest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, Account: "冬日焰火"},
		{RunID: runID, TS: time.Now().Add(5 * time.Second), Stage: progress.StageArticleDone, Account: "冬日焰火", Crawled: 1, Total: 3},
		{RunID: runID, TS: time.Now().Add(10 * time.Second), Stage: progress.StageArticleDone, Account: "冬日焰火", Crawled: 2, Total: 3},
		{RunID: runID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.articlesCrawled.WithLabelValues("冬日焰火")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.runRuntime, "mpharvest_run_runtime_seconds"))
}

// TestPrometheusSinkRunningGauge tracks the gauge across start/error.
func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunError, Note: "boom"},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}
