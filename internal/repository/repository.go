// Package repository provides PostgreSQL persistence for tasks, knowledge base
// records and the scan state.
//
// Every repository takes a DBTX, so the same code runs against the pool or
// inside a transaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    return repository.NewPgTaskRepository(tx).Create(ctx, task)
//	})
//
// Methods return domain errors: domain.ErrNotFound for missing rows,
// domain.ErrAlreadyExists for unique violations, domain.ErrInvalidInput for
// bad arguments and domain.ErrInvalidTransition for rejected status changes.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/paper-radar-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

const pgUniqueViolation = "23505"

// Pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// applyPaginationDefaults clamps limit to [1, maxFilterLimit] and offset to >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
