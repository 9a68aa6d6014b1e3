package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/observability"
	"github.com/helixir/paper-radar-service/internal/pipeline"
)

// work drives one task from its current status to a terminal state. It owns
// the task's slot and releases it on return. A cancelled ctx means the task
// was cancelled or the queue is shutting down; either way the worker leaves
// the stored row alone.
func (q *Queue) work(ctx context.Context, e entry) {
	defer q.wg.Done()
	defer q.release(e.task.ID)

	t := *e.task
	task := &t
	logger := observability.WithTaskContext(q.logger, task.ID.String(), task.Owner)
	ctx = observability.WithTaskID(ctx, task.ID.String())

	if task.Status == domain.TaskStatusPending {
		now := time.Now().UTC()
		task.Status = domain.TaskStatusProcessing
		task.Percent = 0
		task.Message = "Processing started"
		task.StartedAt = &now
		if err := q.deps.Tasks.UpdateProgress(ctx, task, domain.TaskStatusPending); err != nil {
			q.abandon(ctx, logger, err)
			return
		}
	}

	if !q.deps.Store.Exists(task.InputPath) {
		if task.Origin != domain.TaskOriginDiscovery || task.PDFURL == "" || q.deps.Downloader == nil {
			q.resolve(ctx, logger, q.fail(ctx, task, domain.ReasonInputMissing))
			return
		}
		art, err := q.deps.Downloader.Download(ctx, task.ID, task.PDFURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Str("pdf_url", task.PDFURL).Msg("failed to download paper")
			q.resolve(ctx, logger, q.fail(ctx, task, domain.ReasonDownloadFailed))
			return
		}
		task.InputPath = art.Path
		task.InputHash = art.Hash
		task.Message = "Document downloaded"
		if err := q.deps.Tasks.UpdateProgress(ctx, task, task.Status); err != nil {
			q.abandon(ctx, logger, err)
			return
		}
	}

	events, err := q.deps.Pipeline.Submit(ctx, pipeline.Job{
		TaskID:     task.ID,
		Mode:       task.Mode,
		InputPath:  task.InputPath,
		Filename:   task.Filename,
		Highlight:  task.Highlight,
		ResumeFrom: e.resumeFrom,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn().Err(err).Msg("pipeline rejected task")
		q.resolve(ctx, logger, q.fail(ctx, task, domain.ReasonSubmitFailed))
		return
	}
	logger.Debug().Str("resume_from", string(e.resumeFrom)).Msg("task submitted to pipeline")

	for ev := range events {
		if ev.Terminal {
			if ev.Status == domain.TaskStatusCompleted {
				q.resolve(ctx, logger, q.complete(ctx, task, ev.Message))
				return
			}
			reason := ev.Reason
			if reason == "" {
				reason = domain.ReasonPipelineError
			}
			q.resolve(ctx, logger, q.fail(ctx, task, reason))
			return
		}
		if !q.applyProgress(ctx, logger, task, ev) {
			return
		}
	}

	if ctx.Err() == nil {
		q.resolve(ctx, logger, q.fail(ctx, task, domain.ReasonPipelineLost))
	}
}

// applyProgress persists a progress event. Stages only move forward; an
// out-of-order stage keeps the current one. It returns false when the task
// has been resolved elsewhere and the worker should stop.
func (q *Queue) applyProgress(ctx context.Context, logger zerolog.Logger, task *domain.Task, ev pipeline.Event) bool {
	prev := task.Status
	next := prev
	if ev.Stage.IsPipelineStage() && ev.Stage != prev {
		if prev.CanTransitionTo(ev.Stage) {
			next = ev.Stage
		} else {
			logger.Debug().Str("from", string(prev)).Str("stage", string(ev.Stage)).Msg("ignoring out-of-order stage")
		}
	}

	percent := pipeline.ClampPercent(ev.Percent)
	if next == prev && percent < task.Percent {
		percent = task.Percent
	}
	message := ev.Message
	if message == "" {
		message = task.Message
	}
	if next == prev && percent == task.Percent && message == task.Message {
		return true
	}

	prevPercent, prevMessage := task.Percent, task.Message
	task.Status, task.Percent, task.Message = next, percent, message
	if err := q.deps.Tasks.UpdateProgress(ctx, task, prev); err != nil {
		task.Status, task.Percent, task.Message = prev, prevPercent, prevMessage
		if isResolved(err) || ctx.Err() != nil {
			q.abandon(ctx, logger, err)
			return false
		}
		logger.Warn().Err(err).Msg("failed to persist task progress")
	}
	return true
}

// resolve logs the outcome of a terminal write.
func (q *Queue) resolve(ctx context.Context, logger zerolog.Logger, err error) {
	if err == nil {
		return
	}
	q.abandon(ctx, logger, err)
}

// abandon logs why a worker stopped before resolving its task.
func (q *Queue) abandon(ctx context.Context, logger zerolog.Logger, err error) {
	switch {
	case ctx.Err() != nil:
		logger.Debug().Err(err).Msg("task worker stopped")
	case isResolved(err):
		logger.Info().Err(err).Msg("task resolved elsewhere, stopping worker")
	default:
		logger.Error().Err(err).Msg("failed to update task, leaving it for recovery")
	}
}

// isResolved reports whether err means another writer already moved the task
// on or removed it.
func isResolved(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound)
}
