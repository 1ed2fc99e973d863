// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/parts"
)

type partsDB struct {
	*DB
}

const partColumns = `id, part_number, article_number, name, status,
	stock_shape, stock_diameter, stock_width, stock_height, stock_length,
	file_id, ` + metaColumns

func scanPart(row scanner) (parts.Part, error) {
	var part parts.Part
	var fileID sql.NullInt64
	var meta metaRow

	dest := []any{
		&part.ID, &part.PartNumber, &part.ArticleNumber, &part.Name, &part.Status,
		&part.StockShape, &part.StockDiameter, &part.StockWidth, &part.StockHeight, &part.StockLength,
		&fileID,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return parts.Part{}, err
	}

	if fileID.Valid {
		part.FileID = &fileID.Int64
	}
	part.Meta = meta.meta()
	return part, nil
}

func (db *partsDB) Create(ctx context.Context, part parts.Part) (_ parts.Part, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		INSERT INTO parts (
			part_number, article_number, name, status,
			stock_shape, stock_diameter, stock_width, stock_height, stock_length,
			file_id, created_at, updated_at, created_by, updated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		part.PartNumber, part.ArticleNumber, part.Name, part.Status,
		part.StockShape, part.StockDiameter, part.StockWidth, part.StockHeight, part.StockLength,
		part.FileID, now, now, part.CreatedBy, part.CreatedBy)
	if err != nil {
		return parts.Part{}, Error.Wrap(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return parts.Part{}, Error.Wrap(err)
	}
	return db.Get(ctx, id)
}

func (db *partsDB) Get(ctx context.Context, id int64) (_ parts.Part, err error) {
	defer mon.Task()(&ctx)(&err)

	part, err := scanPart(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+partColumns+` FROM parts WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return parts.Part{}, gestima.ErrNotFound.New("part %d", id)
	}
	if err != nil {
		return parts.Part{}, Error.Wrap(err)
	}
	return part, nil
}

func (db *partsDB) GetByPartNumber(ctx context.Context, number int64) (_ parts.Part, err error) {
	defer mon.Task()(&ctx)(&err)

	part, err := scanPart(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+partColumns+` FROM parts WHERE part_number = ? AND deleted_at IS NULL`, number))
	if errors.Is(err, sql.ErrNoRows) {
		return parts.Part{}, gestima.ErrNotFound.New("part number %d", number)
	}
	if err != nil {
		return parts.Part{}, Error.Wrap(err)
	}
	return part, nil
}

func (db *partsDB) GetByArticle(ctx context.Context, article string) (_ parts.Part, err error) {
	defer mon.Task()(&ctx)(&err)

	part, err := scanPart(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+partColumns+` FROM parts WHERE article_number = ? AND deleted_at IS NULL`, article))
	if errors.Is(err, sql.ErrNoRows) {
		return parts.Part{}, gestima.ErrNotFound.New("article %q", article)
	}
	if err != nil {
		return parts.Part{}, Error.Wrap(err)
	}
	return part, nil
}

func (db *partsDB) GetByArticles(ctx context.Context, articles []string) (_ map[string]parts.Part, err error) {
	defer mon.Task()(&ctx)(&err)

	result := make(map[string]parts.Part, len(articles))
	if len(articles) == 0 {
		return result, nil
	}

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+partColumns+` FROM parts
		WHERE article_number IN (`+placeholders(len(articles))+`) AND deleted_at IS NULL`,
		stringArgs(articles)...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	for rows.Next() {
		part, err := scanPart(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result[part.ArticleNumber] = part
	}
	return result, nil
}

func (db *partsDB) ListActive(ctx context.Context) (_ []parts.Part, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+partColumns+` FROM parts WHERE deleted_at IS NULL ORDER BY part_number`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []parts.Part
	for rows.Next() {
		part, err := scanPart(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, part)
	}
	return result, nil
}

func (db *partsDB) Update(ctx context.Context, part parts.Part) (_ parts.Part, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE parts SET
			article_number = ?, name = ?, status = ?,
			stock_shape = ?, stock_diameter = ?, stock_width = ?, stock_height = ?, stock_length = ?,
			file_id = ?, updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		part.ArticleNumber, part.Name, part.Status,
		part.StockShape, part.StockDiameter, part.StockWidth, part.StockHeight, part.StockLength,
		part.FileID, now, part.UpdatedBy,
		part.ID, part.Version)
	if err != nil {
		return parts.Part{}, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return parts.Part{}, Error.Wrap(err)
	}
	if affected == 0 {
		return parts.Part{}, db.versionConflictErr(ctx, "parts", "part", part.ID)
	}
	return db.Get(ctx, part.ID)
}

func (db *partsDB) SetFile(ctx context.Context, partID, fileID int64, by string) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE parts SET file_id = ?, updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND deleted_at IS NULL`,
		fileID, now, by, partID)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return gestima.ErrNotFound.New("part %d", partID)
	}
	return nil
}

func (db *partsDB) SoftDelete(ctx context.Context, id int64, by string, version int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.WithTx(ctx, func(ctx context.Context) error {
		now := db.nowFn().UTC()
		result, err := db.driver(ctx).ExecContext(ctx, `
			UPDATE parts SET deleted_at = ?, deleted_by = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ? AND deleted_at IS NULL`,
			now, by, now, id, version)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return Error.Wrap(err)
		}
		if affected == 0 {
			return db.versionConflictErr(ctx, "parts", "part", id)
		}

		// cascade to owned children
		for _, table := range []string{"operations", "material_inputs"} {
			_, err := db.driver(ctx).ExecContext(ctx, `
				UPDATE `+table+` SET deleted_at = ?, deleted_by = ?, updated_at = ?
				WHERE part_id = ? AND deleted_at IS NULL`,
				now, by, now, id)
			if err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}
