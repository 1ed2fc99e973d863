// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/workcenters"
)

type workCentersDB struct {
	*DB
}

const workCenterColumns = `id, number, name, type,
	rate_machine, rate_labor, rate_overhead, rate_margin,
	can_turn, can_mill, can_drill, ` + metaColumns

func scanWorkCenter(row scanner) (workcenters.WorkCenter, error) {
	var wc workcenters.WorkCenter
	var meta metaRow

	dest := []any{
		&wc.ID, &wc.Number, &wc.Name, &wc.Type,
		&wc.RateMachine, &wc.RateLabor, &wc.RateOverhead, &wc.RateMargin,
		&wc.CanTurn, &wc.CanMill, &wc.CanDrill,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return workcenters.WorkCenter{}, err
	}

	wc.Meta = meta.meta()
	return wc, nil
}

func (db *workCentersDB) Create(ctx context.Context, wc workcenters.WorkCenter) (_ workcenters.WorkCenter, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		INSERT INTO work_centers (
			number, name, type, rate_machine, rate_labor, rate_overhead, rate_margin,
			can_turn, can_mill, can_drill,
			created_at, updated_at, created_by, updated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wc.Number, wc.Name, wc.Type, wc.RateMachine, wc.RateLabor, wc.RateOverhead, wc.RateMargin,
		wc.CanTurn, wc.CanMill, wc.CanDrill,
		now, now, wc.CreatedBy, wc.CreatedBy)
	if err != nil {
		return workcenters.WorkCenter{}, Error.Wrap(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return workcenters.WorkCenter{}, Error.Wrap(err)
	}
	return db.Get(ctx, id)
}

func (db *workCentersDB) Get(ctx context.Context, id int64) (_ workcenters.WorkCenter, err error) {
	defer mon.Task()(&ctx)(&err)

	wc, err := scanWorkCenter(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+workCenterColumns+` FROM work_centers WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return workcenters.WorkCenter{}, gestima.ErrNotFound.New("work center %d", id)
	}
	if err != nil {
		return workcenters.WorkCenter{}, Error.Wrap(err)
	}
	return wc, nil
}

func (db *workCentersDB) GetByNumber(ctx context.Context, number int64) (_ workcenters.WorkCenter, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	wc, err := scanWorkCenter(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+workCenterColumns+` FROM work_centers WHERE number = ? AND deleted_at IS NULL`, number))
	if errors.Is(err, sql.ErrNoRows) {
		return workcenters.WorkCenter{}, false, nil
	}
	if err != nil {
		return workcenters.WorkCenter{}, false, Error.Wrap(err)
	}
	return wc, true, nil
}

func (db *workCentersDB) GetByNumbers(ctx context.Context, numbers []int64) (_ map[int64]workcenters.WorkCenter, err error) {
	defer mon.Task()(&ctx)(&err)

	result := make(map[int64]workcenters.WorkCenter, len(numbers))
	if len(numbers) == 0 {
		return result, nil
	}

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+workCenterColumns+` FROM work_centers
		WHERE number IN (`+placeholders(len(numbers))+`) AND deleted_at IS NULL`,
		int64Args(numbers)...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	for rows.Next() {
		wc, err := scanWorkCenter(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result[wc.Number] = wc
	}
	return result, nil
}

func (db *workCentersDB) List(ctx context.Context) (_ []workcenters.WorkCenter, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+workCenterColumns+` FROM work_centers WHERE deleted_at IS NULL ORDER BY number`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []workcenters.WorkCenter
	for rows.Next() {
		wc, err := scanWorkCenter(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, wc)
	}
	return result, nil
}

func (db *workCentersDB) Update(ctx context.Context, wc workcenters.WorkCenter) (_ workcenters.WorkCenter, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE work_centers SET
			name = ?, type = ?, rate_machine = ?, rate_labor = ?, rate_overhead = ?, rate_margin = ?,
			can_turn = ?, can_mill = ?, can_drill = ?,
			updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		wc.Name, wc.Type, wc.RateMachine, wc.RateLabor, wc.RateOverhead, wc.RateMargin,
		wc.CanTurn, wc.CanMill, wc.CanDrill,
		now, wc.UpdatedBy,
		wc.ID, wc.Version)
	if err != nil {
		return workcenters.WorkCenter{}, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return workcenters.WorkCenter{}, Error.Wrap(err)
	}
	if affected == 0 {
		return workcenters.WorkCenter{}, db.versionConflictErr(ctx, "work_centers", "work center", wc.ID)
	}
	return db.Get(ctx, wc.ID)
}
