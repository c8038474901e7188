package store

import (
	"context"
	"database/sql"
	"fmt"
)

// execer is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Every storage operation is written against it once and exposed both on
// Store (autocommit) and Tx (inside a transaction).
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a storage transaction. All Tx methods see and produce uncommitted
// state until the enclosing WithTx function returns nil.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a single SQLite transaction, committing if fn
// returns nil and rolling back otherwise. This is the scoped-acquisition
// primitive the versioning core composes its atomic save from: either every
// write in fn becomes durable, or none do.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
