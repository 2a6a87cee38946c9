/**
 * @description
 * Scheduled job implementations for the entitlement service.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

// Materializer is the part of the Service the scheduled jobs need.
type Materializer interface {
	MaterializeWindow(ctx context.Context, horizonDays int) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	materializer Materializer
	logger       *slog.Logger
	horizonDays  int
	timeout      time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(materializer Materializer, logger *slog.Logger, horizonDays int, timeout time.Duration) *Jobs {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Jobs{
		materializer: materializer,
		logger:       logger,
		horizonDays:  horizonDays,
		timeout:      timeout,
	}
}

// MaterializeOccurrences runs one materialisation pass over the configured horizon.
func (j *Jobs) MaterializeOccurrences() {
	j.logger.Info("starting occurrence materialization job", "horizon_days", j.horizonDays)
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	created, err := j.materializer.MaterializeWindow(ctx, j.horizonDays)
	if err != nil {
		j.logger.Error("failed to materialize occurrences", "error", err)
		return
	}

	j.logger.Info("occurrence materialization job finished", "created", created)
}
