// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"

	"gestima.io/gestima/parts"
)

type materialItemsDB struct {
	*DB
}

const materialItemColumns = `id, item_number, code, name, shape, density, price_per_kg, ` + metaColumns

func scanMaterialItem(row scanner) (parts.MaterialItem, error) {
	var item parts.MaterialItem
	var meta metaRow

	dest := []any{
		&item.ID, &item.ItemNumber, &item.Code, &item.Name, &item.Shape,
		&item.Density, &item.PricePerKg,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return parts.MaterialItem{}, err
	}

	item.Meta = meta.meta()
	return item, nil
}

func (db *materialItemsDB) Create(ctx context.Context, item parts.MaterialItem) (_ parts.MaterialItem, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		INSERT INTO material_items (
			item_number, code, name, shape, density, price_per_kg,
			created_at, updated_at, created_by, updated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ItemNumber, item.Code, item.Name, item.Shape, item.Density, item.PricePerKg,
		now, now, item.CreatedBy, item.CreatedBy)
	if err != nil {
		return parts.MaterialItem{}, Error.Wrap(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return parts.MaterialItem{}, Error.Wrap(err)
	}

	stored, err := scanMaterialItem(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+materialItemColumns+` FROM material_items WHERE id = ?`, id))
	return stored, Error.Wrap(err)
}

func (db *materialItemsDB) GetByCode(ctx context.Context, code string) (_ parts.MaterialItem, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	item, err := scanMaterialItem(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+materialItemColumns+` FROM material_items
		WHERE code = ? AND deleted_at IS NULL`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return parts.MaterialItem{}, false, nil
	}
	if err != nil {
		return parts.MaterialItem{}, false, Error.Wrap(err)
	}
	return item, true, nil
}

func (db *materialItemsDB) GetByCodes(ctx context.Context, codes []string) (_ map[string]parts.MaterialItem, err error) {
	defer mon.Task()(&ctx)(&err)

	result := make(map[string]parts.MaterialItem, len(codes))
	if len(codes) == 0 {
		return result, nil
	}

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+materialItemColumns+` FROM material_items
		WHERE code IN (`+placeholders(len(codes))+`) AND deleted_at IS NULL`,
		stringArgs(codes)...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	for rows.Next() {
		item, err := scanMaterialItem(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result[item.Code] = item
	}
	return result, nil
}

func (db *materialItemsDB) Update(ctx context.Context, item parts.MaterialItem) (_ parts.MaterialItem, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE material_items SET
			name = ?, shape = ?, density = ?, price_per_kg = ?,
			updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		item.Name, item.Shape, item.Density, item.PricePerKg,
		now, item.UpdatedBy,
		item.ID, item.Version)
	if err != nil {
		return parts.MaterialItem{}, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return parts.MaterialItem{}, Error.Wrap(err)
	}
	if affected == 0 {
		return parts.MaterialItem{}, db.versionConflictErr(ctx, "material_items", "material item", item.ID)
	}

	stored, err := scanMaterialItem(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+materialItemColumns+` FROM material_items WHERE id = ?`, item.ID))
	return stored, Error.Wrap(err)
}

func (db *materialItemsDB) List(ctx context.Context) (_ []parts.MaterialItem, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+materialItemColumns+` FROM material_items
		WHERE deleted_at IS NULL ORDER BY code`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []parts.MaterialItem
	for rows.Next() {
		item, err := scanMaterialItem(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, item)
	}
	return result, nil
}
