// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"gestima.io/gestima/gestima"
)

// txKey carries the active transaction through the context.
type txKey struct{}

func txFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// WithTx runs fn inside a single transaction. Nested calls join the
// transaction already in the context. The write mutex is held for the whole
// transaction.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return Error.Wrap(tx.Commit())
}

// execer is the subset of *sql.DB and *sql.Tx the storage code uses.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// driver resolves to the context transaction when one is active.
func (db *DB) driver(ctx context.Context) execer {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db.db
}

// lock serializes direct writes; it is a no-op inside a transaction, which
// already holds the mutex.
func (db *DB) lock(ctx context.Context) func() {
	if txFromContext(ctx) != nil {
		return func() {}
	}
	db.mu.Lock()
	return db.mu.Unlock
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// metaColumns is the audit envelope column list, in scan order.
const metaColumns = `created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version`

// metaRow scans the audit envelope.
type metaRow struct {
	createdAt time.Time
	updatedAt time.Time
	createdBy string
	updatedBy string
	deletedAt sql.NullTime
	deletedBy string
	version   int64
}

func (m *metaRow) dest() []any {
	return []any{&m.createdAt, &m.updatedAt, &m.createdBy, &m.updatedBy, &m.deletedAt, &m.deletedBy, &m.version}
}

func (m *metaRow) meta() gestima.Meta {
	meta := gestima.Meta{
		CreatedAt: m.createdAt,
		UpdatedAt: m.updatedAt,
		CreatedBy: m.createdBy,
		UpdatedBy: m.updatedBy,
		DeletedBy: m.deletedBy,
		Version:   m.version,
	}
	if m.deletedAt.Valid {
		t := m.deletedAt.Time
		meta.DeletedAt = &t
	}
	return meta
}

// versionConflictErr explains why a versioned update matched no row:
// either the entity is gone or the caller holds a stale version.
func (db *DB) versionConflictErr(ctx context.Context, table, kind string, id int64) error {
	var version int64
	err := db.driver(ctx).QueryRowContext(ctx,
		`SELECT version FROM `+table+` WHERE id = ? AND deleted_at IS NULL`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return gestima.ErrNotFound.New("%s %d", kind, id)
	}
	if err != nil {
		return Error.Wrap(err)
	}
	return gestima.ErrVersionConflict.New("%s %d is at version %d", kind, id, version)
}

// prefixColumns qualifies every column of a comma-separated list with a table
// alias, for join queries.
func prefixColumns(alias, columns string) string {
	split := strings.Split(columns, ",")
	for i, column := range split {
		split[i] = alias + "." + strings.TrimSpace(column)
	}
	return strings.Join(split, ", ")
}

// placeholders renders "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func int64Args(values []int64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
