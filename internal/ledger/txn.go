package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// WithTx runs fn inside a database transaction, committing if fn returns
// nil and rolling back otherwise. SQLite's single-writer connection pool
// already serializes all transactions against each other; the
// LockManager's keyed mutexes exist to serialize the *application-level*
// read-modify-write sequences (lock balance, read, compute, write) that
// span multiple statements within one of these transactions, which a bare
// database transaction does not by itself prevent two goroutines from
// interleaving ahead of.
func (s *Storage) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Locks returns the ledger's keyed lock manager, shared by every
// component (matching engine, withdrawal coordinator, order placement)
// that needs to serialize balance or market access.
func (s *Storage) Locks() *LockManager {
	return s.locks
}
