package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paper-radar-service/internal/domain"
)

// TaskRepository persists processing tasks.
type TaskRepository interface {
	// Create inserts a new task.
	// Returns domain.ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, task *domain.Task) error

	// Get retrieves a task by id.
	// Returns domain.ErrNotFound if no task matches.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateProgress writes the mutable fields of task, provided the stored
	// status still equals prev. A status change must be allowed by the task
	// state machine. Returns domain.ErrInvalidTransition when the stored row
	// moved on or the transition is not allowed.
	UpdateProgress(ctx context.Context, task *domain.Task, prev domain.TaskStatus) error

	// Requeue resets a non-terminal task to pending so it restarts from the
	// first stage. This is the only backwards move the store permits and is
	// reserved for crash recovery.
	Requeue(ctx context.Context, id uuid.UUID, message string) error

	// Delete removes a task.
	// Returns domain.ErrNotFound if no task matches.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListByOwner returns the owner's tasks, newest first.
	ListByOwner(ctx context.Context, owner string, limit int) ([]*domain.Task, error)

	// ListNonTerminal returns every task that is not completed or failed,
	// oldest first.
	ListNonTerminal(ctx context.Context) ([]*domain.Task, error)

	// CountNonTerminal counts tasks that are not completed or failed.
	CountNonTerminal(ctx context.Context) (int, error)

	// FindActiveByExternalID, FindActiveByNormalizedTitle and FindActiveByFilename
	// return a non-terminal task matching the key, or domain.ErrNotFound.
	FindActiveByExternalID(ctx context.Context, externalID string) (*domain.Task, error)
	FindActiveByNormalizedTitle(ctx context.Context, normalizedTitle string) (*domain.Task, error)
	FindActiveByFilename(ctx context.Context, filename string) (*domain.Task, error)

	// DeleteTerminalBefore removes completed and failed tasks last updated
	// before the cutoff and returns them.
	DeleteTerminalBefore(ctx context.Context, before time.Time) ([]*domain.Task, error)
}

// KnowledgeRepository persists knowledge base records.
type KnowledgeRepository interface {
	// Upsert inserts rec, or refreshes the existing record with the same
	// external id.
	Upsert(ctx context.Context, rec *domain.KnowledgeRecord) error

	// FindByExternalID returns the record with the external id, or domain.ErrNotFound.
	FindByExternalID(ctx context.Context, externalID string) (*domain.KnowledgeRecord, error)

	// FindByNormalizedTitle returns a record with the normalized title, or domain.ErrNotFound.
	FindByNormalizedTitle(ctx context.Context, normalizedTitle string) (*domain.KnowledgeRecord, error)

	// Count returns the number of records.
	Count(ctx context.Context) (int64, error)
}

// ScanStateRepository persists the singleton scan state row.
type ScanStateRepository interface {
	Load(ctx context.Context) (*domain.ScanRecord, error)
	Save(ctx context.Context, rec *domain.ScanRecord) error
}
