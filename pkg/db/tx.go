package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the statement surface shared by *sql.DB and *sql.Tx, so
// repository code runs unchanged inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxRunner manages database transaction boundaries for stores.
type TxRunner struct {
	database *sql.DB
}

// NewTxRunner creates a new TxRunner instance.
func NewTxRunner(database *sql.DB) *TxRunner {
	return &TxRunner{database: database}
}

// WithTx executes the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func (r *TxRunner) WithTx(ctx context.Context, fn func(q Querier) error) error {
	_, err := WithTxResult(ctx, r, func(q Querier) (struct{}, error) {
		return struct{}{}, fn(q)
	})
	return err
}

// WithTxResult executes the given function within a database transaction
// and returns a result value.
//
// Usage example:
//
//	created, err := WithTxResult(ctx, runner, func(q Querier) (bool, error) {
//	    // 1. Lock the row if it exists
//	    // 2. Insert when missing
//	    return inserted, nil
//	})
func WithTxResult[T any](ctx context.Context, r *TxRunner, fn func(q Querier) (T, error)) (T, error) {
	var result T

	tx, err := r.database.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin transaction: %w", err)
	}

	result, err = fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return result, fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit transaction: %w", err)
	}

	return result, nil
}

// Querier returns the non-transactional handle.
// Use this for read-only operations that don't require transactions.
func (r *TxRunner) Querier() Querier {
	return r.database
}

// DB returns the underlying database connection.
func (r *TxRunner) DB() *sql.DB {
	return r.database
}
