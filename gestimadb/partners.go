// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/partners"
)

type partnersDB struct {
	*DB
}

const partnerColumns = `id, partner_number, name, is_customer, is_supplier, ico, dic, ` + metaColumns

func scanPartner(row scanner) (partners.Partner, error) {
	var partner partners.Partner
	var meta metaRow

	dest := []any{
		&partner.ID, &partner.PartnerNumber, &partner.Name,
		&partner.IsCustomer, &partner.IsSupplier, &partner.ICO, &partner.DIC,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return partners.Partner{}, err
	}

	partner.Meta = meta.meta()
	return partner, nil
}

func (db *partnersDB) Create(ctx context.Context, partner partners.Partner) (_ partners.Partner, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		INSERT INTO partners (
			partner_number, name, is_customer, is_supplier, ico, dic,
			created_at, updated_at, created_by, updated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		partner.PartnerNumber, partner.Name, partner.IsCustomer, partner.IsSupplier,
		partner.ICO, partner.DIC,
		now, now, partner.CreatedBy, partner.CreatedBy)
	if err != nil {
		return partners.Partner{}, Error.Wrap(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return partners.Partner{}, Error.Wrap(err)
	}
	return db.Get(ctx, id)
}

func (db *partnersDB) Get(ctx context.Context, id int64) (_ partners.Partner, err error) {
	defer mon.Task()(&ctx)(&err)

	partner, err := scanPartner(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return partners.Partner{}, gestima.ErrNotFound.New("partner %d", id)
	}
	if err != nil {
		return partners.Partner{}, Error.Wrap(err)
	}
	return partner, nil
}

func (db *partnersDB) GetByNumber(ctx context.Context, number int64) (_ partners.Partner, err error) {
	defer mon.Task()(&ctx)(&err)

	partner, err := scanPartner(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE partner_number = ? AND deleted_at IS NULL`, number))
	if errors.Is(err, sql.ErrNoRows) {
		return partners.Partner{}, gestima.ErrNotFound.New("partner number %d", number)
	}
	if err != nil {
		return partners.Partner{}, Error.Wrap(err)
	}
	return partner, nil
}

func (db *partnersDB) List(ctx context.Context) (_ []partners.Partner, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []partners.Partner
	for rows.Next() {
		partner, err := scanPartner(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, partner)
	}
	return result, nil
}

func (db *partnersDB) Update(ctx context.Context, partner partners.Partner) (_ partners.Partner, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE partners SET
			name = ?, is_customer = ?, is_supplier = ?, ico = ?, dic = ?,
			updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		partner.Name, partner.IsCustomer, partner.IsSupplier, partner.ICO, partner.DIC,
		now, partner.UpdatedBy,
		partner.ID, partner.Version)
	if err != nil {
		return partners.Partner{}, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return partners.Partner{}, Error.Wrap(err)
	}
	if affected == 0 {
		return partners.Partner{}, db.versionConflictErr(ctx, "partners", "partner", partner.ID)
	}
	return db.Get(ctx, partner.ID)
}

func (db *partnersDB) SoftDelete(ctx context.Context, id int64, by string, version int64) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE partners SET deleted_at = ?, deleted_by = ?, updated_at = ?, version = version + 1
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
		return db.versionConflictErr(ctx, "partners", "partner", id)
	}
	return nil
}
