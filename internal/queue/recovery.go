package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/helixir/paper-radar-service/internal/domain"
)

// RecoveryMode selects what the recovery sweep does with interrupted tasks.
type RecoveryMode string

const (
	// RecoveryResume requeues tasks whose input is still available.
	RecoveryResume RecoveryMode = "resume"
	// RecoveryFail fails every interrupted task.
	RecoveryFail RecoveryMode = "fail"
)

// IsValid reports whether m is a known mode.
func (m RecoveryMode) IsValid() bool {
	return m == RecoveryResume || m == RecoveryFail
}

// RecoveryReport summarizes a recovery sweep.
type RecoveryReport struct {
	// Resumed tasks kept their stage and input.
	Resumed int
	// Restarted tasks lost their input and start over from a fresh download.
	Restarted int
	// Failed tasks could not be recovered.
	Failed int
}

// Recover resolves every non-terminal task left by a previous process. It
// must run before Start. Recovered tasks go to the front of their owner's
// queue in creation order; unrecoverable ones are failed with a reason code.
// Every task is attempted even if some writes fail; the errors are joined.
func (q *Queue) Recover(ctx context.Context, mode RecoveryMode) (*RecoveryReport, error) {
	if !mode.IsValid() {
		return nil, domain.NewValidationError("mode", fmt.Sprintf("unknown recovery mode %q", mode))
	}
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if started {
		return nil, errors.New("queue: recovery must run before Start")
	}

	tasks, err := q.deps.Tasks.ListNonTerminal(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing interrupted tasks: %w", err)
	}

	report := &RecoveryReport{}
	recovered := make([]entry, 0, len(tasks))
	var errs []error

	for _, task := range tasks {
		logger := q.logger.With().
			Str("task_id", task.ID.String()).
			Str("owner", task.Owner).
			Str("status", string(task.Status)).
			Logger()

		switch {
		case mode == RecoveryFail:
			if err := q.recoverFail(ctx, task, domain.ReasonInterrupted); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Failed++
			logger.Info().Msg("failed interrupted task")

		case q.deps.Store.Exists(task.InputPath):
			e := entry{task: task}
			if task.Status.IsPipelineStage() {
				e.resumeFrom = task.Status
			}
			recovered = append(recovered, e)
			report.Resumed++
			q.metrics.RecordRecoveryResumed()
			logger.Info().Msg("resuming interrupted task")

		case task.Origin == domain.TaskOriginDiscovery && task.PDFURL != "":
			if err := q.deps.Tasks.Requeue(ctx, task.ID, "Requeued after restart"); err != nil {
				errs = append(errs, fmt.Errorf("requeue task %s: %w", task.ID, err))
				continue
			}
			task.Status = domain.TaskStatusPending
			task.Percent = 0
			task.Error = ""
			task.StartedAt = nil
			recovered = append(recovered, entry{task: task})
			report.Restarted++
			q.metrics.RecordRecoveryResumed()
			logger.Info().Msg("restarting interrupted task from download")

		default:
			if err := q.recoverFail(ctx, task, domain.ReasonInputMissing); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Failed++
			logger.Warn().Msg("failed interrupted task with missing input")
		}
	}

	q.mu.Lock()
	for i := len(recovered) - 1; i >= 0; i-- {
		q.enqueueLocked(recovered[i], true)
	}
	q.publishLocked()
	q.mu.Unlock()

	q.logger.Info().
		Int("interrupted", len(tasks)).
		Int("resumed", report.Resumed).
		Int("restarted", report.Restarted).
		Int("failed", report.Failed).
		Str("mode", string(mode)).
		Msg("recovery sweep complete")

	return report, errors.Join(errs...)
}

func (q *Queue) recoverFail(ctx context.Context, task *domain.Task, reason string) error {
	if err := q.fail(ctx, task, reason); err != nil {
		return fmt.Errorf("fail task %s: %w", task.ID, err)
	}
	q.metrics.RecordRecoveryFailed(reason)
	return nil
}
