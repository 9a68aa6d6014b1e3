// Package pipeline is the client side of the external document pipeline that
// runs the parsing, rewriting, rendering and highlighting stages of a task.
package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/paper-radar-service/internal/domain"
)

// Job is a single document submitted for processing.
type Job struct {
	// TaskID is the queue task the job belongs to. It doubles as the
	// idempotency key on the pipeline side.
	TaskID uuid.UUID `json:"task_id"`

	// Mode is the processing mode (translate, simplify, ...). Opaque here.
	Mode string `json:"mode"`

	// InputPath is the stored input document.
	InputPath string `json:"input_path"`

	// Filename is the user-facing document name.
	Filename string `json:"filename"`

	// Highlight requests the highlighting stage.
	Highlight bool `json:"highlight"`

	// ResumeFrom is the stage to restart from after a crash. Empty starts
	// from the beginning.
	ResumeFrom domain.TaskStatus `json:"resume_from,omitempty"`
}

// Event is a progress update or the terminal outcome of a job.
type Event struct {
	// Stage is the pipeline stage the job is in.
	Stage domain.TaskStatus

	// Percent is overall progress in [0,100].
	Percent int

	// Message is a human-readable progress note.
	Message string

	// Terminal marks the last event of a job. Status is then completed or failed.
	Terminal bool

	// Status is the terminal status.
	Status domain.TaskStatus

	// Reason explains a failed job.
	Reason string
}

// Progress builds a non-terminal event.
func Progress(stage domain.TaskStatus, percent int, message string) Event {
	return Event{Stage: stage, Percent: ClampPercent(percent), Message: message}
}

// Completed builds a successful terminal event.
func Completed(message string) Event {
	return Event{Terminal: true, Status: domain.TaskStatusCompleted, Percent: 100, Message: message}
}

// Failed builds a failed terminal event.
func Failed(reason string) Event {
	return Event{Terminal: true, Status: domain.TaskStatusFailed, Reason: reason}
}

// Pipeline submits jobs to the document pipeline.
//
// Submit returns once the job is accepted. Events arrive in stage order on the
// returned channel, which is closed after the terminal event. Cancelling ctx
// cancels the job; the channel is then closed without a terminal event.
type Pipeline interface {
	Submit(ctx context.Context, job Job) (<-chan Event, error)
}

// ClampPercent bounds a progress value to [0,100].
func ClampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
