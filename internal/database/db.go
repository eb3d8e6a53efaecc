package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the narrow pgx surface the queries run against.
// Satisfied by *pgxpool.Pool and pgx.Tx, so the same Queries work
// inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries holds all database access methods.
type Queries struct {
	db DBTX
}

// New creates Queries over a pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}
