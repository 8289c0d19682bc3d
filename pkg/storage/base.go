// Package storage implements the relational persistence layer: sessions,
// kernels, agents, dependencies, and the account/quota entities, backed by
// PostgreSQL through database/sql and sqlx, with retry-on-conflict
// transactions and row-level locking for the FSM's concurrency model.
package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, letting call sites be
// agnostic to whether they're inside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// TxFromContext extracts the active transaction, if any.
func TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// ContextWithTx attaches tx to ctx so nested store calls reuse it.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Querier returns the transaction bound to ctx, or the store's plain DB
// handle if ctx carries none.
func (s *Store) Querier(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.db.DB
}

// BeginTx starts a new transaction and returns a context carrying it.
func (s *Store) BeginTx(ctx context.Context) (context.Context, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, fmt.Errorf("storage: begin transaction: %w", err)
	}
	return ContextWithTx(ctx, tx), nil
}

// CommitTx commits the transaction bound to ctx.
func (s *Store) CommitTx(ctx context.Context) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("storage: no transaction in context")
	}
	return tx.Commit()
}

// RollbackTx rolls back the transaction bound to ctx, if any.
func (s *Store) RollbackTx(ctx context.Context) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		return nil
	}
	return tx.Rollback()
}

// WithTx runs fn inside a new transaction, committing on success and
// rolling back on any error fn returns. Nested WithTx calls (ctx already
// carrying a transaction) reuse the existing transaction rather than
// opening a new one, so helper methods compose without double-locking.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	txCtx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		_ = s.RollbackTx(txCtx)
		return err
	}
	return s.CommitTx(txCtx)
}
