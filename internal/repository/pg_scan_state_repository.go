package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-radar-service/internal/domain"
)

var _ ScanStateRepository = (*PgScanStateRepository)(nil)

// PgScanStateRepository stores the scan state in the single-row scan_state table.
type PgScanStateRepository struct {
	db DBTX
}

// NewPgScanStateRepository creates a new PostgreSQL scan state repository.
func NewPgScanStateRepository(db DBTX) *PgScanStateRepository {
	return &PgScanStateRepository{db: db}
}

// Load returns the stored scan state. A missing row yields a zero record.
func (r *PgScanStateRepository) Load(ctx context.Context) (*domain.ScanRecord, error) {
	var rec domain.ScanRecord
	err := r.db.QueryRow(ctx, `
		SELECT last_scan_at, next_scan_at, scan_count, found_count, running, updated_at
		FROM scan_state WHERE id = 1`,
	).Scan(&rec.LastScanAt, &rec.NextScanAt, &rec.ScanCount, &rec.FoundCount, &rec.Running, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.ScanRecord{}, nil
		}
		return nil, fmt.Errorf("failed to load scan state: %w", err)
	}
	return &rec, nil
}

// Save writes rec, creating the row if needed.
func (r *PgScanStateRepository) Save(ctx context.Context, rec *domain.ScanRecord) error {
	if rec == nil {
		return domain.NewValidationError("scan_state", "record cannot be nil")
	}
	rec.UpdatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx, `
		INSERT INTO scan_state (id, last_scan_at, next_scan_at, scan_count, found_count, running, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			last_scan_at = EXCLUDED.last_scan_at,
			next_scan_at = EXCLUDED.next_scan_at,
			scan_count = EXCLUDED.scan_count,
			found_count = EXCLUDED.found_count,
			running = EXCLUDED.running,
			updated_at = EXCLUDED.updated_at`,
		rec.LastScanAt, rec.NextScanAt, rec.ScanCount, rec.FoundCount, rec.Running, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save scan state: %w", err)
	}
	return nil
}
