// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/quotes"
)

type quotesDB struct {
	*DB
}

const quoteColumns = `id, quote_number, partner_id, title, status,
	discount_percent, tax_percent, subtotal, discount_amount, tax_amount, total,
	snapshot_data, sent_at, approved_at, rejected_at, notes, ` + metaColumns

const quoteItemColumns = `id, quote_id, part_id, part_number, part_name,
	quantity, unit_price, line_total, notes, ` + metaColumns

func scanQuote(row scanner) (quotes.Quote, error) {
	var quote quotes.Quote
	var sentAt, approvedAt, rejectedAt sql.NullTime
	var meta metaRow

	dest := []any{
		&quote.ID, &quote.QuoteNumber, &quote.PartnerID, &quote.Title, &quote.Status,
		&quote.DiscountPercent, &quote.TaxPercent,
		&quote.Subtotal, &quote.DiscountAmount, &quote.TaxAmount, &quote.Total,
		&quote.SnapshotData, &sentAt, &approvedAt, &rejectedAt, &quote.Notes,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return quotes.Quote{}, err
	}

	if sentAt.Valid {
		t := sentAt.Time
		quote.SentAt = &t
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		quote.ApprovedAt = &t
	}
	if rejectedAt.Valid {
		t := rejectedAt.Time
		quote.RejectedAt = &t
	}
	quote.Meta = meta.meta()
	return quote, nil
}

func scanQuoteItem(row scanner) (quotes.Item, error) {
	var item quotes.Item
	var meta metaRow

	dest := []any{
		&item.ID, &item.QuoteID, &item.PartID, &item.PartNumber, &item.PartName,
		&item.Quantity, &item.UnitPrice, &item.LineTotal, &item.Notes,
	}
	if err := row.Scan(append(dest, meta.dest()...)...); err != nil {
		return quotes.Item{}, err
	}

	item.Meta = meta.meta()
	return item, nil
}

func (db *quotesDB) Create(ctx context.Context, quote quotes.Quote) (_ quotes.Quote, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		INSERT INTO quotes (
			quote_number, partner_id, title, status,
			discount_percent, tax_percent, notes,
			created_at, updated_at, created_by, updated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		quote.QuoteNumber, quote.PartnerID, quote.Title, quote.Status,
		quote.DiscountPercent, quote.TaxPercent, quote.Notes,
		now, now, quote.CreatedBy, quote.CreatedBy)
	if err != nil {
		return quotes.Quote{}, Error.Wrap(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return quotes.Quote{}, Error.Wrap(err)
	}
	return db.Get(ctx, id)
}

func (db *quotesDB) Get(ctx context.Context, id int64) (_ quotes.Quote, err error) {
	defer mon.Task()(&ctx)(&err)

	quote, err := scanQuote(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return quotes.Quote{}, gestima.ErrNotFound.New("quote %d", id)
	}
	if err != nil {
		return quotes.Quote{}, Error.Wrap(err)
	}
	return quote, nil
}

func (db *quotesDB) List(ctx context.Context) (_ []quotes.Quote, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []quotes.Quote
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, quote)
	}
	return result, nil
}

func (db *quotesDB) Items(ctx context.Context, quoteID int64) (_ []quotes.Item, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+quoteItemColumns+` FROM quote_items
		WHERE quote_id = ? AND deleted_at IS NULL ORDER BY id`, quoteID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	var result []quotes.Item
	for rows.Next() {
		item, err := scanQuoteItem(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, item)
	}
	return result, nil
}

func (db *quotesDB) GetItem(ctx context.Context, itemID int64) (_ quotes.Item, err error) {
	defer mon.Task()(&ctx)(&err)

	item, err := scanQuoteItem(db.driver(ctx).QueryRowContext(ctx,
		`SELECT `+quoteItemColumns+` FROM quote_items WHERE id = ? AND deleted_at IS NULL`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return quotes.Item{}, gestima.ErrNotFound.New("quote item %d", itemID)
	}
	if err != nil {
		return quotes.Item{}, Error.Wrap(err)
	}
	return item, nil
}

func (db *quotesDB) AddItem(ctx context.Context, item quotes.Item, totals quotes.Totals) (_ quotes.Item, err error) {
	defer mon.Task()(&ctx)(&err)

	var stored quotes.Item
	err = db.WithTx(ctx, func(ctx context.Context) error {
		now := db.nowFn().UTC()
		result, err := db.driver(ctx).ExecContext(ctx, `
			INSERT INTO quote_items (
				quote_id, part_id, part_number, part_name,
				quantity, unit_price, line_total, notes,
				created_at, updated_at, created_by, updated_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.QuoteID, item.PartID, item.PartNumber, item.PartName,
			item.Quantity, item.UnitPrice, item.LineTotal, item.Notes,
			now, now, item.CreatedBy, item.CreatedBy)
		if err != nil {
			return Error.Wrap(err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return Error.Wrap(err)
		}
		if err := db.writeTotals(ctx, item.QuoteID, totals, item.CreatedBy); err != nil {
			return err
		}

		stored, err = db.GetItem(ctx, id)
		return err
	})
	return stored, err
}

func (db *quotesDB) UpdateItem(ctx context.Context, item quotes.Item, totals quotes.Totals) (_ quotes.Item, err error) {
	defer mon.Task()(&ctx)(&err)

	var stored quotes.Item
	err = db.WithTx(ctx, func(ctx context.Context) error {
		now := db.nowFn().UTC()
		result, err := db.driver(ctx).ExecContext(ctx, `
			UPDATE quote_items SET
				quantity = ?, unit_price = ?, line_total = ?, notes = ?,
				updated_at = ?, updated_by = ?, version = version + 1
			WHERE id = ? AND version = ? AND deleted_at IS NULL`,
			item.Quantity, item.UnitPrice, item.LineTotal, item.Notes,
			now, item.UpdatedBy,
			item.ID, item.Version)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return Error.Wrap(err)
		}
		if affected == 0 {
			return db.versionConflictErr(ctx, "quote_items", "quote item", item.ID)
		}
		if err := db.writeTotals(ctx, item.QuoteID, totals, item.UpdatedBy); err != nil {
			return err
		}

		stored, err = db.GetItem(ctx, item.ID)
		return err
	})
	return stored, err
}

func (db *quotesDB) RemoveItem(ctx context.Context, itemID int64, by string, totals quotes.Totals) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.WithTx(ctx, func(ctx context.Context) error {
		item, err := db.GetItem(ctx, itemID)
		if err != nil {
			return err
		}

		now := db.nowFn().UTC()
		_, err = db.driver(ctx).ExecContext(ctx, `
			UPDATE quote_items SET deleted_at = ?, deleted_by = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND deleted_at IS NULL`,
			now, by, now, itemID)
		if err != nil {
			return Error.Wrap(err)
		}
		return db.writeTotals(ctx, item.QuoteID, totals, by)
	})
}

// writeTotals persists recomputed totals on the quote header.
func (db *quotesDB) writeTotals(ctx context.Context, quoteID int64, totals quotes.Totals, by string) error {
	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE quotes SET
			subtotal = ?, discount_amount = ?, tax_amount = ?, total = ?,
			updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND deleted_at IS NULL`,
		totals.Subtotal, totals.DiscountAmount, totals.TaxAmount, totals.Total,
		now, by, quoteID)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return gestima.ErrNotFound.New("quote %d", quoteID)
	}
	return nil
}

func (db *quotesDB) UpdateHeader(ctx context.Context, quote quotes.Quote, totals quotes.Totals) (_ quotes.Quote, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	now := db.nowFn().UTC()
	result, err := db.driver(ctx).ExecContext(ctx, `
		UPDATE quotes SET
			partner_id = ?, title = ?, discount_percent = ?, tax_percent = ?, notes = ?,
			subtotal = ?, discount_amount = ?, tax_amount = ?, total = ?,
			updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		quote.PartnerID, quote.Title, quote.DiscountPercent, quote.TaxPercent, quote.Notes,
		totals.Subtotal, totals.DiscountAmount, totals.TaxAmount, totals.Total,
		now, quote.UpdatedBy,
		quote.ID, quote.Version)
	if err != nil {
		return quotes.Quote{}, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return quotes.Quote{}, Error.Wrap(err)
	}
	if affected == 0 {
		return quotes.Quote{}, db.versionConflictErr(ctx, "quotes", "quote", quote.ID)
	}
	return db.Get(ctx, quote.ID)
}

func (db *quotesDB) SetStatus(ctx context.Context, id int64, status gestima.QuoteStatus, snapshot []byte, by string, at time.Time, version int64) (_ quotes.Quote, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.lock(ctx)()

	query := `UPDATE quotes SET status = ?, updated_at = ?, updated_by = ?, version = version + 1`
	args := []any{status, db.nowFn().UTC(), by}

	if snapshot != nil {
		query += `, snapshot_data = ?`
		args = append(args, snapshot)
	}
	switch status {
	case gestima.QuoteSent:
		query += `, sent_at = ?`
		args = append(args, at.UTC())
	case gestima.QuoteApproved:
		query += `, approved_at = ?`
		args = append(args, at.UTC())
	case gestima.QuoteRejected:
		query += `, rejected_at = ?`
		args = append(args, at.UTC())
	}
	query += ` WHERE id = ? AND version = ? AND deleted_at IS NULL`
	args = append(args, id, version)

	result, err := db.driver(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return quotes.Quote{}, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return quotes.Quote{}, Error.Wrap(err)
	}
	if affected == 0 {
		return quotes.Quote{}, db.versionConflictErr(ctx, "quotes", "quote", id)
	}
	return db.Get(ctx, id)
}

func (db *quotesDB) SoftDelete(ctx context.Context, id int64, by string, version int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.WithTx(ctx, func(ctx context.Context) error {
		now := db.nowFn().UTC()
		result, err := db.driver(ctx).ExecContext(ctx, `
			UPDATE quotes SET deleted_at = ?, deleted_by = ?, updated_at = ?, version = version + 1
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
			return db.versionConflictErr(ctx, "quotes", "quote", id)
		}

		_, err = db.driver(ctx).ExecContext(ctx, `
			UPDATE quote_items SET deleted_at = ?, deleted_by = ?, updated_at = ?
			WHERE quote_id = ? AND deleted_at IS NULL`,
			now, by, now, id)
		return Error.Wrap(err)
	})
}
