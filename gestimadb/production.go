// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"

	"gestima.io/gestima/production"
)

type productionDB struct {
	*DB
}

const productionColumns = `id, part_id, infor_order_number, operation_seq, work_center_id,
	planned_setup_min, planned_operation_min, actual_setup_min, actual_operation_min,
	planned_manning_percent, actual_manning_percent, released_quantity, is_coop, ` + metaColumns

func scanProductionRecord(row scanner) (production.Record, error) {
	var record production.Record
	var workCenterID sql.NullInt64
	var meta metaRow

	dest := []any{
		&record.ID, &record.PartID, &record.InforOrderNumber, &record.OperationSeq, &workCenterID,
		&record.PlannedSetupMin, &record.PlannedOperationMin,
		&record.ActualSetupMin, &record.ActualOperationMin,
		&record.PlannedManningPercent, &record.ActualManningPercent,
		&record.ReleasedQuantity, &record.IsCoop,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return production.Record{}, err
	}

	if workCenterID.Valid {
		record.WorkCenterID = &workCenterID.Int64
	}
	record.Meta = meta.meta()
	return record, nil
}

func (db *productionDB) Upsert(ctx context.Context, record production.Record) (_ production.Record, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE production_records SET
			work_center_id = ?,
			planned_setup_min = ?, planned_operation_min = ?,
			actual_setup_min = ?, actual_operation_min = ?,
			planned_manning_percent = ?, actual_manning_percent = ?,
			released_quantity = ?, is_coop = ?,
			updated_at = ?, updated_by = ?, deleted_at = NULL, deleted_by = '',
			version = version + 1
		WHERE part_id = ? AND infor_order_number = ? AND operation_seq = ?`,
		record.WorkCenterID,
		record.PlannedSetupMin, record.PlannedOperationMin,
		record.ActualSetupMin, record.ActualOperationMin,
		record.PlannedManningPercent, record.ActualManningPercent,
		record.ReleasedQuantity, record.IsCoop,
		now, record.UpdatedBy,
		record.PartID, record.InforOrderNumber, record.OperationSeq)
	if err != nil {
		return production.Record{}, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return production.Record{}, Error.Wrap(err)
	}

	if affected == 0 {
		_, err = db.driver(ctx).ExecContext(ctx, `
			INSERT INTO production_records (
				part_id, infor_order_number, operation_seq, work_center_id,
				planned_setup_min, planned_operation_min, actual_setup_min, actual_operation_min,
				planned_manning_percent, actual_manning_percent, released_quantity, is_coop,
				created_at, updated_at, created_by, updated_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.PartID, record.InforOrderNumber, record.OperationSeq, record.WorkCenterID,
			record.PlannedSetupMin, record.PlannedOperationMin,
			record.ActualSetupMin, record.ActualOperationMin,
			record.PlannedManningPercent, record.ActualManningPercent,
			record.ReleasedQuantity, record.IsCoop,
			now, now, record.CreatedBy, record.CreatedBy)
		if err != nil {
			return production.Record{}, Error.Wrap(err)
		}
	}

	stored, _, err := db.Get(ctx, production.Key{
		PartID:           record.PartID,
		InforOrderNumber: record.InforOrderNumber,
		OperationSeq:     record.OperationSeq,
	})
	return stored, err
}

func (db *productionDB) Get(ctx context.Context, key production.Key) (_ production.Record, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	record, err := scanProductionRecord(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+productionColumns+` FROM production_records
		WHERE part_id = ? AND infor_order_number = ? AND operation_seq = ? AND deleted_at IS NULL`,
		key.PartID, key.InforOrderNumber, key.OperationSeq))
	if errors.Is(err, sql.ErrNoRows) {
		return production.Record{}, false, nil
	}
	if err != nil {
		return production.Record{}, false, Error.Wrap(err)
	}
	return record, true, nil
}

func (db *productionDB) ListByPart(ctx context.Context, partID int64) (_ []production.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+productionColumns+` FROM production_records
		WHERE part_id = ? AND deleted_at IS NULL
		ORDER BY infor_order_number, operation_seq`, partID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []production.Record
	for rows.Next() {
		record, err := scanProductionRecord(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, record)
	}
	return result, nil
}
