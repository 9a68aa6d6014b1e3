package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-radar-service/internal/observability"
	"github.com/helixir/paper-radar-service/internal/repository"
)

// Janitor defaults.
const (
	DefaultTaskTTL         = 24 * time.Hour
	DefaultCleanupInterval = 10 * time.Minute
)

// Janitor deletes expired terminal tasks and their input documents.
type Janitor struct {
	tasks    repository.TaskRepository
	store    ArtifactStore
	ttl      time.Duration
	interval time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewJanitor creates a Janitor. Non-positive durations fall back to the defaults.
func NewJanitor(
	tasks repository.TaskRepository,
	store ArtifactStore,
	ttl, interval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Janitor {
	if ttl <= 0 {
		ttl = DefaultTaskTTL
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Janitor{
		tasks:    tasks,
		store:    store,
		ttl:      ttl,
		interval: interval,
		metrics:  metrics,
		logger:   logger.With().Str("component", "janitor").Logger(),
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error().Err(err).Msg("task cleanup failed")
			}
		}
	}
}

// Sweep removes terminal tasks last updated before now-ttl and returns how
// many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	removed, err := j.tasks.DeleteTerminalBefore(ctx, j.now().Add(-j.ttl))
	if err != nil {
		return 0, fmt.Errorf("deleting expired tasks: %w", err)
	}
	if len(removed) == 0 {
		return 0, nil
	}

	paths := make([]string, 0, len(removed))
	for _, t := range removed {
		if t.InputPath != "" {
			paths = append(paths, t.InputPath)
		}
	}
	if err := j.store.Remove(paths...); err != nil {
		j.logger.Warn().Err(err).Msg("failed to remove some task inputs")
	}

	j.metrics.RecordTasksCleaned(len(removed))
	j.logger.Info().Int("count", len(removed)).Msg("removed expired tasks")
	return len(removed), nil
}
