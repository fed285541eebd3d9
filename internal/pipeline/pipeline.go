// Package pipeline runs completed article records through validation,
// cleaning, and the persistence sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/crawl"
)

// Stage processes one article in place. Returning an error wrapping
// crawl.ErrDropped or crawl.ErrDuplicate discards the record without failing
// the run.
type Stage interface {
	Name() string
	Process(ctx context.Context, article *crawl.Article) error
}

// Pipeline chains stages in order.
type Pipeline struct {
	stages []Stage
	logger *zap.Logger
}

// New builds a Pipeline over the given stages.
func New(logger *zap.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// Run pushes the article through every stage. The first stage error stops
// processing and is returned wrapped with the stage name.
func (p *Pipeline) Run(ctx context.Context, article *crawl.Article) error {
	for _, stage := range p.stages {
		if err := stage.Process(ctx, article); err != nil {
			if errors.Is(err, crawl.ErrDropped) || errors.Is(err, crawl.ErrDuplicate) {
				p.logger.Debug("article discarded",
					zap.String("stage", stage.Name()),
					zap.String("article_id", article.ArticleID),
					zap.Error(err),
				)
			}
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return nil
}
