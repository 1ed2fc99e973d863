// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"

	"gestima.io/gestima/parts"
)

type materialInputsDB struct {
	*DB
}

const materialInputColumns = `id, part_id, seq, price_category_id, material_item_id,
	shape, diameter, width, height, length, quantity, cut_length_mm, pieces, ` + metaColumns

func scanMaterialInput(row scanner) (parts.MaterialInput, error) {
	var input parts.MaterialInput
	var priceCategoryID, materialItemID, pieces sql.NullInt64
	var cutLength sql.NullFloat64
	var meta metaRow

	dest := []any{
		&input.ID, &input.PartID, &input.Seq, &priceCategoryID, &materialItemID,
		&input.Shape, &input.Diameter, &input.Width, &input.Height, &input.Length,
		&input.Quantity, &cutLength, &pieces,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return parts.MaterialInput{}, err
	}

	if priceCategoryID.Valid {
		input.PriceCategoryID = &priceCategoryID.Int64
	}
	if materialItemID.Valid {
		input.MaterialItemID = &materialItemID.Int64
	}
	if cutLength.Valid {
		input.CutLengthMM = &cutLength.Float64
	}
	if pieces.Valid {
		input.Pieces = &pieces.Int64
	}
	input.Meta = meta.meta()
	return input, nil
}

func (db *materialInputsDB) Upsert(ctx context.Context, input parts.MaterialInput) (_ parts.MaterialInput, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE material_inputs SET
			price_category_id = ?, material_item_id = ?,
			shape = ?, diameter = ?, width = ?, height = ?, length = ?,
			quantity = ?, cut_length_mm = ?, pieces = ?,
			updated_at = ?, updated_by = ?, deleted_at = NULL, deleted_by = '',
			version = version + 1
		WHERE part_id = ? AND seq = ?`,
		input.PriceCategoryID, input.MaterialItemID,
		input.Shape, input.Diameter, input.Width, input.Height, input.Length,
		input.Quantity, input.CutLengthMM, input.Pieces,
		now, input.UpdatedBy,
		input.PartID, input.Seq)
	if err != nil {
		return parts.MaterialInput{}, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return parts.MaterialInput{}, Error.Wrap(err)
	}

	if affected == 0 {
		_, err = db.driver(ctx).ExecContext(ctx, `
			INSERT INTO material_inputs (
				part_id, seq, price_category_id, material_item_id,
				shape, diameter, width, height, length,
				quantity, cut_length_mm, pieces,
				created_at, updated_at, created_by, updated_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			input.PartID, input.Seq, input.PriceCategoryID, input.MaterialItemID,
			input.Shape, input.Diameter, input.Width, input.Height, input.Length,
			input.Quantity, input.CutLengthMM, input.Pieces,
			now, now, input.CreatedBy, input.CreatedBy)
		if err != nil {
			return parts.MaterialInput{}, Error.Wrap(err)
		}
	}

	stored, err := scanMaterialInput(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+materialInputColumns+` FROM material_inputs
		WHERE part_id = ? AND seq = ? AND deleted_at IS NULL`, input.PartID, input.Seq))
	return stored, Error.Wrap(err)
}

func (db *materialInputsDB) ListByPart(ctx context.Context, partID int64) (_ []parts.MaterialInput, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+materialInputColumns+` FROM material_inputs
		WHERE part_id = ? AND deleted_at IS NULL ORDER BY seq`, partID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []parts.MaterialInput
	for rows.Next() {
		input, err := scanMaterialInput(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, input)
	}
	return result, nil
}

func (db *materialInputsDB) LinkOperation(ctx context.Context, inputID, operationID int64, consumed *float64) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	_, err = db.driver(ctx).ExecContext(ctx, `
		INSERT INTO material_input_operations (input_id, operation_id, consumed_quantity)
		VALUES (?, ?, ?)
		ON CONFLICT (input_id, operation_id) DO UPDATE SET consumed_quantity = excluded.consumed_quantity`,
		inputID, operationID, consumed)
	return Error.Wrap(err)
}
