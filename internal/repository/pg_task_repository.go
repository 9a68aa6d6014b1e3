package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-radar-service/internal/domain"
)

const taskColumns = `id, owner, origin, filename, mode, highlight,
	external_id, title, normalized_title, source, pdf_url,
	input_path, input_hash, score, status, percent, message, error,
	created_at, updated_at, started_at, completed_at`

const activeTaskFilter = `status NOT IN ('completed', 'failed')`

var _ TaskRepository = (*PgTaskRepository)(nil)

// PgTaskRepository is a PostgreSQL implementation of TaskRepository.
type PgTaskRepository struct {
	db DBTX
}

// NewPgTaskRepository creates a new PostgreSQL task repository.
func NewPgTaskRepository(db DBTX) *PgTaskRepository {
	return &PgTaskRepository{db: db}
}

// Create inserts a new task.
func (r *PgTaskRepository) Create(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return domain.NewValidationError("task", "task cannot be nil")
	}
	if task.ID == uuid.Nil {
		return domain.NewValidationError("id", "task ID is required")
	}
	if task.Owner == "" {
		return domain.NewValidationError("owner", "owner is required")
	}
	if !task.Status.IsValid() {
		return domain.NewValidationError("status", fmt.Sprintf("unknown status %q", task.Status))
	}

	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22)`

	_, err := r.db.Exec(ctx, query,
		task.ID, task.Owner, string(task.Origin), task.Filename, task.Mode, task.Highlight,
		task.ExternalID, task.Title, task.NormalizedTitle, string(task.Source), task.PDFURL,
		task.InputPath, task.InputHash, task.Score, string(task.Status), task.Percent, task.Message, task.Error,
		task.CreatedAt, task.UpdatedAt, task.StartedAt, task.CompletedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("task", task.ID.String())
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Get retrieves a task by id.
func (r *PgTaskRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("task", id.String())
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// UpdateProgress writes status, progress and artifact fields guarded by prev.
func (r *PgTaskRepository) UpdateProgress(ctx context.Context, task *domain.Task, prev domain.TaskStatus) error {
	if task == nil {
		return domain.NewValidationError("task", "task cannot be nil")
	}
	if task.Status != prev && !prev.CanTransitionTo(task.Status) {
		return domain.NewTransitionError(prev, task.Status)
	}
	if task.Status == prev && prev.IsTerminal() {
		return domain.NewTransitionError(prev, task.Status)
	}

	task.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE tasks SET
			status = $1,
			percent = $2,
			message = $3,
			error = $4,
			input_path = $5,
			input_hash = $6,
			updated_at = $7,
			started_at = $8,
			completed_at = $9
		WHERE id = $10 AND status = $11`

	tag, err := r.db.Exec(ctx, query,
		string(task.Status), task.Percent, task.Message, task.Error,
		task.InputPath, task.InputHash, task.UpdatedAt, task.StartedAt, task.CompletedAt,
		task.ID, string(prev),
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, task.ID, task.Status)
	}
	return nil
}

// Requeue resets a non-terminal task to pending.
func (r *PgTaskRepository) Requeue(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE tasks SET
			status = 'pending',
			percent = 0,
			message = $1,
			error = '',
			started_at = NULL,
			updated_at = $2
		WHERE id = $3 AND ` + activeTaskFilter

	tag, err := r.db.Exec(ctx, query, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, domain.TaskStatusPending)
	}
	return nil
}

// explainMiss turns a zero-row conditional update into NotFound or a
// transition error naming the stored status.
func (r *PgTaskRepository) explainMiss(ctx context.Context, id uuid.UUID, want domain.TaskStatus) error {
	var current string
	err := r.db.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("task", id.String())
		}
		return fmt.Errorf("failed to read task status: %w", err)
	}
	return domain.NewTransitionError(domain.TaskStatus(current), want)
}

// Delete removes a task.
func (r *PgTaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("task", id.String())
	}
	return nil
}

// ListByOwner returns the owner's tasks, newest first.
func (r *PgTaskRepository) ListByOwner(ctx context.Context, owner string, limit int) ([]*domain.Task, error) {
	offset := 0
	applyPaginationDefaults(&limit, &offset)

	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE owner = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return r.queryTasks(ctx, query, owner, limit)
}

// ListNonTerminal returns every live task, oldest first.
func (r *PgTaskRepository) ListNonTerminal(ctx context.Context) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE ` + activeTaskFilter + `
		ORDER BY created_at ASC, id ASC`
	return r.queryTasks(ctx, query)
}

// CountNonTerminal counts live tasks.
func (r *PgTaskRepository) CountNonTerminal(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE `+activeTaskFilter).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return n, nil
}

// FindActiveByExternalID returns a live task with the external id.
func (r *PgTaskRepository) FindActiveByExternalID(ctx context.Context, externalID string) (*domain.Task, error) {
	return r.findActive(ctx, "external_id", externalID)
}

// FindActiveByNormalizedTitle returns a live task with the normalized title.
func (r *PgTaskRepository) FindActiveByNormalizedTitle(ctx context.Context, normalizedTitle string) (*domain.Task, error) {
	return r.findActive(ctx, "normalized_title", normalizedTitle)
}

// FindActiveByFilename returns a live task with the filename.
func (r *PgTaskRepository) FindActiveByFilename(ctx context.Context, filename string) (*domain.Task, error) {
	return r.findActive(ctx, "filename", filename)
}

// findActive looks a live task up by one identity column. column is always
// one of the constants above, never caller input.
func (r *PgTaskRepository) findActive(ctx context.Context, column, value string) (*domain.Task, error) {
	if value == "" {
		return nil, domain.NewValidationError(column, "value is required")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE ` + column + ` = $1 AND ` + activeTaskFilter + `
		ORDER BY created_at ASC
		LIMIT 1`

	task, err := scanTask(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("task", value)
		}
		return nil, fmt.Errorf("failed to find active task by %s: %w", column, err)
	}
	return task, nil
}

// DeleteTerminalBefore removes expired terminal tasks and returns them.
func (r *PgTaskRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) ([]*domain.Task, error) {
	query := `DELETE FROM tasks
		WHERE status IN ('completed', 'failed') AND updated_at < $1
		RETURNING ` + taskColumns
	return r.queryTasks(ctx, query, before)
}

func (r *PgTaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// scanTask scans one row selected with taskColumns. pgx.Rows satisfies
// pgx.Row, so it serves both QueryRow and Query.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		t                      domain.Task
		origin, source, status string
		startedAt, completedAt *time.Time
	)
	err := row.Scan(
		&t.ID, &t.Owner, &origin, &t.Filename, &t.Mode, &t.Highlight,
		&t.ExternalID, &t.Title, &t.NormalizedTitle, &source, &t.PDFURL,
		&t.InputPath, &t.InputHash, &t.Score, &status, &t.Percent, &t.Message, &t.Error,
		&t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Origin = domain.TaskOrigin(origin)
	t.Source = domain.SourceType(source)
	t.Status = domain.TaskStatus(status)
	t.StartedAt = startedAt
	t.CompletedAt = completedAt
	return &t, nil
}
