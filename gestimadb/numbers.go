// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package gestimadb

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"

	"gestima.io/gestima/numbers"
)

type numbersDB struct {
	*DB
}

// classTargets maps an allocation class to the table and column holding its
// issued numbers. Deleted rows keep their number reserved, so no tombstone
// filter is applied.
var classTargets = map[numbers.Class]struct{ table, column string }{
	numbers.ClassPart:       {"parts", "part_number"},
	numbers.ClassMaterial:   {"material_items", "item_number"},
	numbers.ClassBatch:      {"batches", "batch_number"},
	numbers.ClassBatchSet:   {"batch_sets", "set_number"},
	numbers.ClassQuote:      {"quotes", "quote_number"},
	numbers.ClassPartner:    {"partners", "partner_number"},
	numbers.ClassWorkCenter: {"work_centers", "number"},
}

func classTarget(class numbers.Class) (table, column string, err error) {
	target, ok := classTargets[class]
	if !ok {
		return "", "", Error.New("unknown allocation class %q", class)
	}
	return target.table, target.column, nil
}

func (db *numbersDB) CountInRange(ctx context.Context, class numbers.Class, lo, hi int64) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	table, column, err := classTarget(class)
	if err != nil {
		return 0, err
	}

	var count int64
	err = db.driver(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE `+column+` BETWEEN ? AND ?`, lo, hi).Scan(&count)
	return count, Error.Wrap(err)
}

func (db *numbersDB) Existing(ctx context.Context, class numbers.Class, candidates []int64) (_ map[int64]struct{}, err error) {
	defer mon.Task()(&ctx)(&err)

	result := make(map[int64]struct{}, len(candidates))
	if len(candidates) == 0 {
		return result, nil
	}

	table, column, err := classTarget(class)
	if err != nil {
		return nil, err
	}

	rows, err := db.driver(ctx).QueryContext(ctx,
		`SELECT `+column+` FROM `+table+` WHERE `+column+` IN (`+placeholders(len(candidates))+`)`,
		int64Args(candidates)...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close(), rows.Err()) }()

	for rows.Next() {
		var number int64
		if err := rows.Scan(&number); err != nil {
			return nil, Error.Wrap(err)
		}
		result[number] = struct{}{}
	}
	return result, nil
}

func (db *numbersDB) MaxInRange(ctx context.Context, class numbers.Class, lo, hi int64) (max int64, found bool, err error) {
	defer mon.Task()(&ctx)(&err)

	table, column, err := classTarget(class)
	if err != nil {
		return 0, false, err
	}

	var value sql.NullInt64
	err = db.driver(ctx).QueryRowContext(ctx,
		`SELECT MAX(`+column+`) FROM `+table+` WHERE `+column+` BETWEEN ? AND ?`, lo, hi).Scan(&value)
	if err != nil {
		return 0, false, Error.Wrap(err)
	}
	if !value.Valid {
		return 0, false, nil
	}
	return value.Int64, true, nil
}
