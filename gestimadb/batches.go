// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"gestima.io/gestima/batches"
	"gestima.io/gestima/gestima"
)

type batchesDB struct {
	*DB
}

const batchColumns = `id, batch_number, part_id, batch_set_id, quantity,
	material_cost, operation_cost, coop_cost, unit_cost, total_cost,
	is_frozen, frozen_at, frozen_by, unit_price_frozen, total_price_frozen,
	snapshot_data, ` + metaColumns

const batchSetColumns = `id, set_number, part_id, name, status, frozen_at, frozen_by, ` + metaColumns

func scanBatch(row scanner) (batches.Batch, error) {
	var batch batches.Batch
	var setID sql.NullInt64
	var frozenAt sql.NullTime
	var unitFrozen, totalFrozen sql.NullFloat64
	var meta metaRow

	dest := []any{
		&batch.ID, &batch.BatchNumber, &batch.PartID, &setID, &batch.Quantity,
		&batch.MaterialCost, &batch.OperationCost, &batch.CoopCost, &batch.UnitCost, &batch.TotalCost,
		&batch.IsFrozen, &frozenAt, &batch.FrozenBy, &unitFrozen, &totalFrozen,
		&batch.SnapshotData,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return batches.Batch{}, err
	}

	if setID.Valid {
		batch.BatchSetID = &setID.Int64
	}
	if frozenAt.Valid {
		t := frozenAt.Time
		batch.FrozenAt = &t
	}
	if unitFrozen.Valid {
		batch.UnitPriceFrozen = &unitFrozen.Float64
	}
	if totalFrozen.Valid {
		batch.TotalPriceFrozen = &totalFrozen.Float64
	}
	batch.Meta = meta.meta()
	return batch, nil
}

func scanBatchSet(row scanner) (batches.BatchSet, error) {
	var set batches.BatchSet
	var partID sql.NullInt64
	var frozenAt sql.NullTime
	var meta metaRow

	dest := []any{
		&set.ID, &set.SetNumber, &partID, &set.Name, &set.Status, &frozenAt, &set.FrozenBy,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return batches.BatchSet{}, err
	}

	if partID.Valid {
		set.PartID = &partID.Int64
	}
	if frozenAt.Valid {
		t := frozenAt.Time
		set.FrozenAt = &t
	}
	set.Meta = meta.meta()
	return set, nil
}

func (db *batchesDB) CreateBatch(ctx context.Context, batch batches.Batch) (_ batches.Batch, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		INSERT INTO batches (
			batch_number, part_id, batch_set_id, quantity,
			material_cost, operation_cost, coop_cost, unit_cost, total_cost,
			created_at, updated_at, created_by, updated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.BatchNumber, batch.PartID, batch.BatchSetID, batch.Quantity,
		batch.MaterialCost, batch.OperationCost, batch.CoopCost, batch.UnitCost, batch.TotalCost,
		now, now, batch.CreatedBy, batch.CreatedBy)
	if err != nil {
		return batches.Batch{}, Error.Wrap(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return batches.Batch{}, Error.Wrap(err)
	}
	return db.GetBatch(ctx, id)
}

func (db *batchesDB) GetBatch(ctx context.Context, id int64) (_ batches.Batch, err error) {
	defer mon.Task()(&ctx)(&err)

	batch, err := scanBatch(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return batches.Batch{}, gestima.ErrNotFound.New("batch %d", id)
	}
	if err != nil {
		return batches.Batch{}, Error.Wrap(err)
	}
	return batch, nil
}

func (db *batchesDB) UpdateBatch(ctx context.Context, batch batches.Batch) (_ batches.Batch, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE batches SET
			batch_set_id = ?, quantity = ?,
			material_cost = ?, operation_cost = ?, coop_cost = ?, unit_cost = ?, total_cost = ?,
			updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND version = ? AND is_frozen = 0 AND deleted_at IS NULL`,
		batch.BatchSetID, batch.Quantity,
		batch.MaterialCost, batch.OperationCost, batch.CoopCost, batch.UnitCost, batch.TotalCost,
		now, batch.UpdatedBy,
		batch.ID, batch.Version)
	if err != nil {
		return batches.Batch{}, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return batches.Batch{}, Error.Wrap(err)
	}
	if affected == 0 {
		current, getErr := db.GetBatch(ctx, batch.ID)
		if getErr != nil {
			return batches.Batch{}, getErr
		}
		if current.IsFrozen {
			return batches.Batch{}, batches.ErrFrozen.New("batch %d", batch.ID)
		}
		return batches.Batch{}, db.versionConflictErr(ctx, "batches", "batch", batch.ID)
	}
	return db.GetBatch(ctx, batch.ID)
}

func (db *batchesDB) ListBySet(ctx context.Context, setID int64) (_ []batches.Batch, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches
		WHERE batch_set_id = ? AND deleted_at IS NULL ORDER BY quantity`, setID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []batches.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, batch)
	}
	return result, nil
}

func (db *batchesDB) CreateSet(ctx context.Context, set batches.BatchSet) (_ batches.BatchSet, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		INSERT INTO batch_sets (
			set_number, part_id, name, status,
			created_at, updated_at, created_by, updated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		set.SetNumber, set.PartID, set.Name, set.Status,
		now, now, set.CreatedBy, set.CreatedBy)
	if err != nil {
		return batches.BatchSet{}, Error.Wrap(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return batches.BatchSet{}, Error.Wrap(err)
	}
	return db.GetSet(ctx, id)
}

func (db *batchesDB) GetSet(ctx context.Context, id int64) (_ batches.BatchSet, err error) {
	defer mon.Task()(&ctx)(&err)

	set, err := scanBatchSet(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+batchSetColumns+` FROM batch_sets WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return batches.BatchSet{}, gestima.ErrNotFound.New("batch set %d", id)
	}
	if err != nil {
		return batches.BatchSet{}, Error.Wrap(err)
	}
	return set, nil
}

func (db *batchesDB) ListSetsByPart(ctx context.Context, partID int64) (_ []batches.BatchSet, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+batchSetColumns+` FROM batch_sets
		WHERE part_id = ? AND deleted_at IS NULL ORDER BY created_at DESC`, partID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []batches.BatchSet
	for rows.Next() {
		set, err := scanBatchSet(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, set)
	}
	return result, nil
}

func (db *batchesDB) LatestFrozenSet(ctx context.Context, partID int64) (_ batches.BatchSet, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	set, err := scanBatchSet(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+batchSetColumns+` FROM batch_sets
		WHERE part_id = ? AND status = ? AND deleted_at IS NULL
		ORDER BY frozen_at DESC LIMIT 1`, partID, gestima.BatchSetFrozen))
	if errors.Is(err, sql.ErrNoRows) {
		return batches.BatchSet{}, false, nil
	}
	if err != nil {
		return batches.BatchSet{}, false, Error.Wrap(err)
	}
	return set, true, nil
}

func (db *batchesDB) FreezeBatch(ctx context.Context, batchID int64, frozen batches.FrozenFields) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE batches SET
			is_frozen = 1, frozen_at = ?, frozen_by = ?,
			unit_price_frozen = ?, total_price_frozen = ?, snapshot_data = ?,
			updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND is_frozen = 0 AND deleted_at IS NULL`,
		frozen.FrozenAt.UTC(), frozen.FrozenBy,
		frozen.UnitPriceFrozen, frozen.TotalPriceFrozen, frozen.SnapshotData,
		now, frozen.FrozenBy,
		batchID)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		if _, getErr := db.GetBatch(ctx, batchID); getErr != nil {
			return getErr
		}
		return batches.ErrFrozen.New("batch %d", batchID)
	}
	return nil
}

func (db *batchesDB) FreezeSet(ctx context.Context, setID int64, by string, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE batch_sets SET
			status = ?, frozen_at = ?, frozen_by = ?,
			updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND status = ? AND deleted_at IS NULL`,
		gestima.BatchSetFrozen, at.UTC(), by,
		now, by,
		setID, gestima.BatchSetDraft)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		if _, getErr := db.GetSet(ctx, setID); getErr != nil {
			return getErr
		}
		return batches.ErrFrozen.New("batch set %d", setID)
	}
	return nil
}

func (db *batchesDB) DeleteSet(ctx context.Context, setID int64, by string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.WithTx(ctx, func(ctx context.Context) error {
		now := db.nowFn().UTC()
		result, err := db.driver(ctx).ExecContext(ctx, `
			UPDATE batch_sets SET deleted_at = ?, deleted_by = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND deleted_at IS NULL`,
			now, by, now, setID)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return Error.Wrap(err)
		}
		if affected == 0 {
			return gestima.ErrNotFound.New("batch set %d", setID)
		}

		_, err = db.driver(ctx).ExecContext(ctx, `
			UPDATE batches SET deleted_at = ?, deleted_by = ?, updated_at = ?
			WHERE batch_set_id = ? AND deleted_at IS NULL`,
			now, by, now, setID)
		return Error.Wrap(err)
	})
}
