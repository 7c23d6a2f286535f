// Package repository contains the persistence layer: hand-written SQL over
// database/sql against Postgres (pgx stdlib driver).
//
// Queries return domain types directly. Callers translate sql.ErrNoRows into
// domain errors; every other error is returned wrapped with the failing
// query's name.
package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the subset of *sql.DB / *sql.Tx the queries need.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries bundles all database operations. It runs against either the bare
// connection pool or a transaction.
type Queries struct {
	db DBTX
}

// Repository is the Queries set plus transaction control for the operations
// that must commit atomically.
type Repository struct {
	*Queries
	db *sql.DB
}

// New creates a Repository backed by the given database handle.
func New(db *sql.DB) *Repository {
	return &Repository{
		Queries: &Queries{db: db},
		db:      db,
	}
}

// execTx runs fn inside a transaction, rolling back on error.
func (r *Repository) execTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&Queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
