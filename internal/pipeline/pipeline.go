// Package pipeline runs the ingestion stages as a strict linear chain:
// scrape, load-raw, enrich, load-detections. No stage begins before its
// predecessor completes, and the first failure aborts the chain. Every
// stage is safely re-runnable because all persistence downstream is
// idempotent; recovery is "retry the whole stage".
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medscrape/telegram-warehouse/internal/observability"
)

// Stage is one named step of the pipeline.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

type Pipeline struct {
	runID  string
	logger *zerolog.Logger
	stages []Stage
}

func New(runID string, logger *zerolog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{runID: runID, logger: logger, stages: stages}
}

// Run executes the stages in order, timing each one.
func (p *Pipeline) Run(ctx context.Context) error {
	for _, stage := range p.stages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.logger.Info().Str("run_id", p.runID).Str("stage", stage.Name).Msg("Starting stage")
		start := time.Now()

		if err := stage.Run(ctx); err != nil {
			p.logger.Error().Str("run_id", p.runID).Str("stage", stage.Name).Err(err).Msg("Stage failed")

			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}

		elapsed := time.Since(start)
		observability.StageDurationSeconds.WithLabelValues(stage.Name).Observe(elapsed.Seconds())
		p.logger.Info().Str("run_id", p.runID).Str("stage", stage.Name).Dur("duration", elapsed).Msg("Stage finished")
	}

	return nil
}
