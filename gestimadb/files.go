// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"gestima.io/gestima/files"
	"gestima.io/gestima/gestima"
)

type filesDB struct {
	*DB
}

const fileColumns = `id, hash, path, original_name, size, type, mime, status, ` + metaColumns

const fileLinkColumns = `id, file_id, entity_type, entity_id, is_primary, revision, link_type, ` + metaColumns

func scanFileRecord(row scanner) (files.Record, error) {
	var record files.Record
	var meta metaRow

	dest := []any{
		&record.ID, &record.Hash, &record.Path, &record.OriginalName,
		&record.Size, &record.Type, &record.Mime, &record.Status,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return files.Record{}, err
	}

	record.Meta = meta.meta()
	return record, nil
}

func scanFileLink(row scanner) (files.Link, error) {
	var link files.Link
	var meta metaRow

	dest := []any{
		&link.ID, &link.FileID, &link.EntityType, &link.EntityID,
		&link.IsPrimary, &link.Revision, &link.LinkType,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return files.Link{}, err
	}

	link.Meta = meta.meta()
	return link, nil
}

func (db *filesDB) CreateRecord(ctx context.Context, record files.Record) (_ files.Record, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		INSERT INTO files (
			hash, path, original_name, size, type, mime, status,
			created_at, updated_at, created_by, updated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Hash, record.Path, record.OriginalName, record.Size,
		record.Type, record.Mime, record.Status,
		now, now, record.CreatedBy, record.CreatedBy)
	if err != nil {
		return files.Record{}, Error.Wrap(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return files.Record{}, Error.Wrap(err)
	}
	return db.GetRecord(ctx, id)
}

func (db *filesDB) GetRecord(ctx context.Context, id int64) (_ files.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	record, err := scanFileRecord(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return files.Record{}, files.ErrNotFound.New("file %d", id)
	}
	if err != nil {
		return files.Record{}, Error.Wrap(err)
	}
	return record, nil
}

func (db *filesDB) RecordsByHash(ctx context.Context, hash string) (_ []files.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE hash = ? AND deleted_at IS NULL ORDER BY id`, hash)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []files.Record
	for rows.Next() {
		record, err := scanFileRecord(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, record)
	}
	return result, nil
}

func (db *filesDB) PathExists(ctx context.Context, path string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	var one int
	err = db.driver(ctx).QueryRowContext(ctx,
		`SELECT 1 FROM files WHERE path = ?`, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

func (db *filesDB) UpsertLink(ctx context.Context, link files.Link) (_ files.Link, err error) {
	defer mon.Task()(&ctx)(&err)

	var stored files.Link
	err = db.WithTx(ctx, func(ctx context.Context) error {
		now := db.nowFn().UTC()

		if link.IsPrimary {
			_, err := db.driver(ctx).ExecContext(ctx, `
				UPDATE file_links SET is_primary = 0, updated_at = ?, updated_by = ?
				WHERE entity_type = ? AND entity_id = ? AND link_type = ?
					AND is_primary = 1 AND deleted_at IS NULL`,
				now, link.CreatedBy, link.EntityType, link.EntityID, link.LinkType)
			if err != nil {
				return Error.Wrap(err)
			}
		}

		var existingID int64
		err := db.driver(ctx).QueryRowContext(ctx, `
			SELECT id FROM file_links
			WHERE file_id = ? AND entity_type = ? AND entity_id = ?
			ORDER BY deleted_at IS NULL DESC, id DESC LIMIT 1`,
			link.FileID, link.EntityType, link.EntityID).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			result, err := db.driver(ctx).ExecContext(ctx, `
				INSERT INTO file_links (
					file_id, entity_type, entity_id, is_primary, revision, link_type,
					created_at, updated_at, created_by, updated_by
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				link.FileID, link.EntityType, link.EntityID,
				link.IsPrimary, link.Revision, link.LinkType,
				now, now, link.CreatedBy, link.CreatedBy)
			if err != nil {
				return Error.Wrap(err)
			}
			existingID, err = result.LastInsertId()
			if err != nil {
				return Error.Wrap(err)
			}
		case err != nil:
			return Error.Wrap(err)
		default:
			// revive a tombstoned link or refresh the live one
			_, err := db.driver(ctx).ExecContext(ctx, `
				UPDATE file_links SET
					is_primary = ?, revision = ?, link_type = ?,
					deleted_at = NULL, deleted_by = '',
					updated_at = ?, updated_by = ?, version = version + 1
				WHERE id = ?`,
				link.IsPrimary, link.Revision, link.LinkType,
				now, link.CreatedBy, existingID)
			if err != nil {
				return Error.Wrap(err)
			}
		}

		stored, err = scanFileLink(db.driver(ctx).QueryRowContext(ctx,
			`SELECT `+fileLinkColumns+` FROM file_links WHERE id = ?`, existingID))
		return Error.Wrap(err)
	})
	return stored, err
}

func (db *filesDB) SoftDeleteLink(ctx context.Context, fileID int64, entityType gestima.EntityType, entityID int64, by string) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE file_links SET deleted_at = ?, deleted_by = ?, updated_at = ?, version = version + 1
		WHERE file_id = ? AND entity_type = ? AND entity_id = ? AND deleted_at IS NULL`,
		now, by, now, fileID, entityType, entityID)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return files.ErrLinkNotFound.New("file %d on %s %d", fileID, entityType, entityID)
	}
	return nil
}

func (db *filesDB) ForEntity(ctx context.Context, entityType gestima.EntityType, entityID int64, linkType gestima.LinkType) (_ []files.Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	query := `
		SELECT ` + prefixColumns("f", fileColumns) + `, ` + prefixColumns("l", fileLinkColumns) + `
		FROM file_links l
		JOIN files f ON f.id = l.file_id
		WHERE l.entity_type = ? AND l.entity_id = ?
			AND l.deleted_at IS NULL AND f.deleted_at IS NULL`
	args := []any{entityType, entityID}
	if linkType != "" {
		query += ` AND l.link_type = ?`
		args = append(args, linkType)
	}
	query += ` ORDER BY l.is_primary DESC, l.id`

	rows, err := db.driver(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []files.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, entry)
	}
	return result, nil
}

func scanEntry(row scanner) (files.Entry, error) {
	var entry files.Entry
	var recordMeta, linkMeta metaRow

	dest := []any{
		&entry.Record.ID, &entry.Record.Hash, &entry.Record.Path, &entry.Record.OriginalName,
		&entry.Record.Size, &entry.Record.Type, &entry.Record.Mime, &entry.Record.Status,
	}
	dest = append(dest, recordMeta.dest()...)
	dest = append(dest,
		&entry.Link.ID, &entry.Link.FileID, &entry.Link.EntityType, &entry.Link.EntityID,
		&entry.Link.IsPrimary, &entry.Link.Revision, &entry.Link.LinkType)
	dest = append(dest, linkMeta.dest()...)

	if err := row.Scan(dest...); err != nil {
		return files.Entry{}, err
	}

	entry.Record.Meta = recordMeta.meta()
	entry.Link.Meta = linkMeta.meta()
	return entry, nil
}

func (db *filesDB) Primary(ctx context.Context, entityType gestima.EntityType, entityID int64, linkType gestima.LinkType) (_ files.Entry, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	entry, err := scanEntry(db.driver(ctx).QueryRowContext(ctx, `
		SELECT `+prefixColumns("f", fileColumns)+`, `+prefixColumns("l", fileLinkColumns)+`
		FROM file_links l
		JOIN files f ON f.id = l.file_id
		WHERE l.entity_type = ? AND l.entity_id = ? AND l.link_type = ?
			AND l.is_primary = 1 AND l.deleted_at IS NULL AND f.deleted_at IS NULL
		LIMIT 1`,
		entityType, entityID, linkType))
	if errors.Is(err, sql.ErrNoRows) {
		return files.Entry{}, false, nil
	}
	if err != nil {
		return files.Entry{}, false, Error.Wrap(err)
	}
	return entry, true, nil
}

func (db *filesDB) Orphans(ctx context.Context) (_ []files.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE status != ? AND deleted_at IS NULL
			AND id NOT IN (SELECT file_id FROM file_links WHERE deleted_at IS NULL)
		ORDER BY id`, gestima.FileTemp)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []files.Record
	for rows.Next() {
		record, err := scanFileRecord(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, record)
	}
	return result, nil
}

func (db *filesDB) TempOlderThan(ctx context.Context, cutoff time.Time) (_ []files.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE status = ? AND created_at < ? AND deleted_at IS NULL
		ORDER BY id`, gestima.FileTemp, cutoff.UTC())
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []files.Record
	for rows.Next() {
		record, err := scanFileRecord(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, record)
	}
	return result, nil
}

func (db *filesDB) SoftDeleteRecord(ctx context.Context, id int64, by string) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE files SET deleted_at = ?, deleted_by = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND deleted_at IS NULL`,
		now, by, now, id)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return files.ErrNotFound.New("file %d", id)
	}
	return nil
}

func (db *filesDB) EntitiesWithPrimary(ctx context.Context, entityType gestima.EntityType, entityIDs []int64, linkType gestima.LinkType) (_ map[int64]bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result := make(map[int64]bool, len(entityIDs))
	if len(entityIDs) == 0 {
		return result, nil
	}

	args := append([]any{entityType, linkType}, int64Args(entityIDs)...)
	rows, err := db.driver(ctx).QueryContext(ctx, `
		SELECT DISTINCT entity_id FROM file_links
		WHERE entity_type = ? AND link_type = ? AND is_primary = 1 AND deleted_at IS NULL
			AND entity_id IN (`+placeholders(len(entityIDs))+`)`, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	for rows.Next() {
		var entityID int64
		if err := rows.Scan(&entityID); err != nil {
			return nil, Error.Wrap(err)
		}
		result[entityID] = true
	}
	return result, nil
}

func (db *filesDB) EntitiesLinkedToHash(ctx context.Context, hash string, entityType gestima.EntityType) (_ []int64, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx, `
		SELECT DISTINCT l.entity_id
		FROM file_links l
		JOIN files f ON f.id = l.file_id
		WHERE f.hash = ? AND l.entity_type = ?
			AND l.deleted_at IS NULL AND f.deleted_at IS NULL
		ORDER BY l.entity_id`, hash, entityType)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []int64
	for rows.Next() {
		var entityID int64
		if err := rows.Scan(&entityID); err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, entityID)
	}
	return result, nil
}
