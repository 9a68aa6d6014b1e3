package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-radar-service/internal/domain"
)

const knowledgeColumns = `id, task_id, owner, external_id, title, normalized_title,
	source, extraction_status, created_at, updated_at`

var _ KnowledgeRepository = (*PgKnowledgeRepository)(nil)

// PgKnowledgeRepository is a PostgreSQL implementation of KnowledgeRepository.
type PgKnowledgeRepository struct {
	db DBTX
}

// NewPgKnowledgeRepository creates a new PostgreSQL knowledge repository.
func NewPgKnowledgeRepository(db DBTX) *PgKnowledgeRepository {
	return &PgKnowledgeRepository{db: db}
}

// Upsert inserts rec. A record with the same non-empty external id is
// refreshed in place and rec.ID is set to the stored id.
func (r *PgKnowledgeRepository) Upsert(ctx context.Context, rec *domain.KnowledgeRecord) error {
	if rec == nil {
		return domain.NewValidationError("record", "record cannot be nil")
	}
	if rec.ID == uuid.Nil {
		return domain.NewValidationError("id", "record ID is required")
	}
	if rec.NormalizedTitle == "" && rec.ExternalID == "" {
		return domain.NewValidationError("identity", "external ID or normalized title is required")
	}

	var query string
	if rec.ExternalID != "" {
		query = `INSERT INTO knowledge_records (` + knowledgeColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (external_id) WHERE external_id <> '' DO UPDATE SET
				task_id = EXCLUDED.task_id,
				title = EXCLUDED.title,
				normalized_title = EXCLUDED.normalized_title,
				extraction_status = EXCLUDED.extraction_status,
				updated_at = EXCLUDED.updated_at
			RETURNING id`
	} else {
		query = `INSERT INTO knowledge_records (` + knowledgeColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`
	}

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.TaskID, rec.Owner, rec.ExternalID, rec.Title, rec.NormalizedTitle,
		string(rec.Source), string(rec.ExtractionStatus), rec.CreatedAt, rec.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("knowledge_record", rec.ID.String())
		}
		return fmt.Errorf("failed to upsert knowledge record: %w", err)
	}
	rec.ID = id
	return nil
}

// FindByExternalID returns the record with the external id.
func (r *PgKnowledgeRepository) FindByExternalID(ctx context.Context, externalID string) (*domain.KnowledgeRecord, error) {
	if externalID == "" {
		return nil, domain.NewValidationError("external_id", "external ID is required")
	}
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_records WHERE external_id = $1`
	return r.findOne(ctx, query, externalID)
}

// FindByNormalizedTitle returns the oldest record with the normalized title.
func (r *PgKnowledgeRepository) FindByNormalizedTitle(ctx context.Context, normalizedTitle string) (*domain.KnowledgeRecord, error) {
	if normalizedTitle == "" {
		return nil, domain.NewValidationError("normalized_title", "normalized title is required")
	}
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_records
		WHERE normalized_title = $1
		ORDER BY created_at ASC
		LIMIT 1`
	return r.findOne(ctx, query, normalizedTitle)
}

// Count returns the number of knowledge records.
func (r *PgKnowledgeRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count knowledge records: %w", err)
	}
	return n, nil
}

func (r *PgKnowledgeRepository) findOne(ctx context.Context, query, key string) (*domain.KnowledgeRecord, error) {
	var (
		rec            domain.KnowledgeRecord
		source, status string
	)
	err := r.db.QueryRow(ctx, query, key).Scan(
		&rec.ID, &rec.TaskID, &rec.Owner, &rec.ExternalID, &rec.Title, &rec.NormalizedTitle,
		&source, &status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("knowledge_record", key)
		}
		return nil, fmt.Errorf("failed to find knowledge record: %w", err)
	}
	rec.Source = domain.SourceType(source)
	rec.ExtractionStatus = domain.ExtractionStatus(status)
	return &rec, nil
}
