package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/progress"
	"github.com/mpharvest/mpharvest/internal/store"
)

// StoreSink persists run lifecycle and progress counters via a
// store.RunRepository. Per-article events are collapsed to the latest
// counters per run to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle events and the collapsed progress counters to
// the repository. It respects ctx deadlines and returns repository errors
// verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[uuid.UUID]progress.Event)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.Account, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageArticleDone:
			if prev, ok := latest[runID]; !ok || evt.Crawled > prev.Crawled {
				latest[runID] = evt
			}
		case progress.StageRunDone:
			delete(latest, runID)
			if err := s.finishRun(ctx, runID, evt, store.RunCompleted); err != nil {
				return err
			}
		case progress.StageRunError:
			delete(latest, runID)
			if err := s.finishRun(ctx, runID, evt, store.RunError); err != nil {
				return err
			}
		}
	}

	for runID, evt := range latest {
		if err := s.repo.UpdateProgress(ctx, runID, evt.Crawled, evt.Total); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) finishRun(ctx context.Context, runID uuid.UUID, evt progress.Event, status store.RunStatus) error {
	if err := s.repo.UpdateProgress(ctx, runID, evt.Crawled, evt.Total); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	var note *string
	if evt.Note != "" {
		note = &evt.Note
	}
	if err := s.repo.FinishRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
