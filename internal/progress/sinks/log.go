package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.ByteString("run_id", evt.RunID[:]),
			zap.String("stage", string(evt.Stage)),
			zap.String("account", evt.Account),
			zap.String("title", evt.Title),
			zap.Int("crawled", evt.Crawled),
			zap.Int("total", evt.Total),
			zap.Float64("progress", evt.Progress),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
