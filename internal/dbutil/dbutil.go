// Package dbutil provides shared Postgres access helpers: transaction
// propagation via context, and null-type conversions used across the
// store packages.
package dbutil

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, letting stores issue
// queries without caring whether a transaction is active.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// TxFromContext extracts an in-flight transaction from ctx, if any.
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

// DB wraps a *sql.DB and resolves the active Querier for a context,
// transparently joining an open transaction when one is present.
type DB struct {
	db *sql.DB
}

// New wraps an existing connection pool.
func New(db *sql.DB) *DB {
	return &DB{db: db}
}

// Raw returns the underlying pool.
func (d *DB) Raw() *sql.DB {
	return d.db
}

// Querier resolves the transaction-aware query executor for ctx.
func (d *DB) Querier(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return d.db
}

// BeginTx starts a new transaction and returns a context carrying it.
// Handlers must Commit on every success path; session-drop semantics are
// approximated with an explicit deferred Rollback by the caller (see
// WithTx), since Go gives no RAII guarantee on scope exit.
func (d *DB) BeginTx(ctx context.Context) (context.Context, *sql.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return ContextWithTx(ctx, tx), tx, nil
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error or panic. fn receives a context carrying the
// open transaction so nested store calls automatically participate in it.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	txCtx, tx, err := d.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(txCtx)
	return err
}

// --- Null-type conversions (mirrors the teacher's system/framework/core/sql.go) ---

func ToNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func FromNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func ToNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func FromNullTime(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time
	}
	return time.Time{}
}
