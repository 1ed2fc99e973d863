// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"gestima.io/gestima/inforsync"
)

type syncStateDB struct {
	*DB
}

const syncStateColumns = `step, enabled, interval_sec, last_sync_at, last_status, last_error, updated_at`

func scanSyncState(row scanner) (inforsync.State, error) {
	var state inforsync.State
	var intervalSec int64
	var lastSyncAt sql.NullTime

	err := row.Scan(&state.Step, &state.Enabled, &intervalSec,
		&lastSyncAt, &state.LastStatus, &state.LastError, &state.UpdatedAt)
	if err != nil {
		return inforsync.State{}, err
	}

	state.Interval = time.Duration(intervalSec) * time.Second
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		state.LastSyncAt = &t
	}
	return state, nil
}

func (db *syncStateDB) SeedDefaults(ctx context.Context, defaults []inforsync.State) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	for _, state := range defaults {
		_, err := db.driver(ctx).ExecContext(ctx, `
			INSERT INTO sync_state (step, enabled, interval_sec, last_status, last_error, updated_at)
			VALUES (?, ?, ?, '', '', ?)
			ON CONFLICT (step) DO NOTHING`,
			state.Step, state.Enabled, int64(state.Interval/time.Second), now)
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (db *syncStateDB) All(ctx context.Context) (_ []inforsync.State, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+syncStateColumns+` FROM sync_state ORDER BY step`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []inforsync.State
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, state)
	}
	return result, nil
}

func (db *syncStateDB) Get(ctx context.Context, step string) (_ inforsync.State, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	state, err := scanSyncState(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+syncStateColumns+` FROM sync_state WHERE step = ?`, step))
	if errors.Is(err, sql.ErrNoRows) {
		return inforsync.State{}, false, nil
	}
	if err != nil {
		return inforsync.State{}, false, Error.Wrap(err)
	}
	return state, true, nil
}

func (db *syncStateDB) SetEnabled(ctx context.Context, step string, enabled bool) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	_, err = db.driver(ctx).ExecContext(ctx,
		`UPDATE sync_state SET enabled = ?, updated_at = ? WHERE step = ?`,
		enabled, db.nowFn().UTC(), step)
	return Error.Wrap(err)
}

func (db *syncStateDB) SetInterval(ctx context.Context, step string, interval time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	_, err = db.driver(ctx).ExecContext(ctx,
		`UPDATE sync_state SET interval_sec = ?, updated_at = ? WHERE step = ?`,
		int64(interval/time.Second), db.nowFn().UTC(), step)
	return Error.Wrap(err)
}

func (db *syncStateDB) RecordSuccess(ctx context.Context, step string, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	_, err = db.driver(ctx).ExecContext(ctx, `
		UPDATE sync_state SET last_sync_at = ?, last_status = ?, last_error = '', updated_at = ?
		WHERE step = ?`,
		at.UTC(), inforsync.StatusOK, db.nowFn().UTC(), step)
	return Error.Wrap(err)
}

func (db *syncStateDB) RecordError(ctx context.Context, step string, at time.Time, message string) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	// the watermark stays put so the failed window is retried
	_, err = db.driver(ctx).ExecContext(ctx, `
		UPDATE sync_state SET last_status = ?, last_error = ?, updated_at = ?
		WHERE step = ?`,
		inforsync.StatusError, message, at.UTC(), step)
	return Error.Wrap(err)
}

func (db *syncStateDB) AppendLog(ctx context.Context, entry inforsync.LogEntry) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	_, err = db.driver(ctx).ExecContext(ctx, `
		INSERT INTO sync_log (step, started_at, finished_at, status, count, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Step, entry.StartedAt.UTC(), entry.FinishedAt.UTC(),
		entry.Status, entry.Count, entry.Error)
	return Error.Wrap(err)
}

func (db *syncStateDB) Logs(ctx context.Context, step string, limit int) (_ []inforsync.LogEntry, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 {
		limit = 50
	}
	rows, err := db.driver(ctx).QueryContext(ctx, `
		SELECT id, step, started_at, finished_at, status, count, error
		FROM sync_log WHERE step = ? ORDER BY started_at DESC LIMIT ?`, step, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []inforsync.LogEntry
	for rows.Next() {
		var entry inforsync.LogEntry
		err := rows.Scan(&entry.ID, &entry.Step, &entry.StartedAt, &entry.FinishedAt,
			&entry.Status, &entry.Count, &entry.Error)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, entry)
	}
	return result, nil
}
