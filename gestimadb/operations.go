// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/zeebo/errs"

	"gestima.io/gestima/parts"
)

type operationsDB struct {
	*DB
}

const operationColumns = `id, part_id, seq, work_center_id,
	setup_time_min, operation_time_min, manning_percent, utilization_percent,
	is_coop, ` + metaColumns

func scanOperation(row scanner) (parts.Operation, error) {
	var op parts.Operation
	var workCenterID sql.NullInt64
	var meta metaRow

	dest := []any{
		&op.ID, &op.PartID, &op.Seq, &workCenterID,
		&op.SetupTimeMin, &op.OperationTimeMin, &op.ManningPercent, &op.UtilizationPercent,
		&op.IsCoop,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return parts.Operation{}, err
	}

	if workCenterID.Valid {
		op.WorkCenterID = &workCenterID.Int64
	}
	op.Meta = meta.meta()
	return op, nil
}

func (db *operationsDB) Upsert(ctx context.Context, op parts.Operation) (_ parts.Operation, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE operations SET
			work_center_id = ?, setup_time_min = ?, operation_time_min = ?,
			manning_percent = ?, utilization_percent = ?, is_coop = ?,
			updated_at = ?, updated_by = ?, deleted_at = NULL, deleted_by = '',
			version = version + 1
		WHERE part_id = ? AND seq = ?`,
		op.WorkCenterID, op.SetupTimeMin, op.OperationTimeMin,
		op.ManningPercent, op.UtilizationPercent, op.IsCoop,
		now, op.UpdatedBy,
		op.PartID, op.Seq)
	if err != nil {
		return parts.Operation{}, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return parts.Operation{}, Error.Wrap(err)
	}

	if affected == 0 {
		_, err = db.driver(ctx).ExecContext(ctx, `
			INSERT INTO operations (
				part_id, seq, work_center_id, setup_time_min, operation_time_min,
				manning_percent, utilization_percent, is_coop,
				created_at, updated_at, created_by, updated_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.PartID, op.Seq, op.WorkCenterID, op.SetupTimeMin, op.OperationTimeMin,
			op.ManningPercent, op.UtilizationPercent, op.IsCoop,
			now, now, op.CreatedBy, op.CreatedBy)
		if err != nil {
			return parts.Operation{}, Error.Wrap(err)
		}
	}

	stored, _, err := db.GetBySeq(ctx, op.PartID, op.Seq)
	return stored, err
}

func (db *operationsDB) GetBySeq(ctx context.Context, partID int64, seq int) (_ parts.Operation, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	op, err := scanOperation(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations
		WHERE part_id = ? AND seq = ? AND deleted_at IS NULL`, partID, seq))
	if errors.Is(err, sql.ErrNoRows) {
		return parts.Operation{}, false, nil
	}
	if err != nil {
		return parts.Operation{}, false, Error.Wrap(err)
	}
	return op, true, nil
}

func (db *operationsDB) ListByPart(ctx context.Context, partID int64) (_ []parts.Operation, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+operationColumns+` FROM operations
		WHERE part_id = ? AND deleted_at IS NULL ORDER BY seq`, partID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []parts.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, op)
	}
	return result, nil
}

func (db *operationsDB) MapByKeys(ctx context.Context, keys []parts.OperationKey) (_ map[parts.OperationKey]parts.Operation, err error) {
	defer mon.Task()(&ctx)(&err)

	result := make(map[parts.OperationKey]parts.Operation, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	conditions := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		conditions = append(conditions, "(part_id = ? AND seq = ?)")
		args = append(args, key.PartID, key.Seq)
	}

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+operationColumns+` FROM operations
		WHERE (`+strings.Join(conditions, " OR ")+`) AND deleted_at IS NULL`, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result[parts.OperationKey{PartID: op.PartID, Seq: op.Seq}] = op
	}
	return result, nil
}
