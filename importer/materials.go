// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package importer

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/infor"
	"gestima.io/gestima/numbers"
	"gestima.io/gestima/parts"
)

// MaterialItemImporter imports material master records.
type MaterialItemImporter struct {
	log   *zap.Logger
	db    parts.MaterialItemsDB
	alloc *numbers.Allocator
	by    string
}

// NewMaterialItemImporter creates a material master importer.
func NewMaterialItemImporter(log *zap.Logger, db parts.MaterialItemsDB, alloc *numbers.Allocator, by string) *MaterialItemImporter {
	return &MaterialItemImporter{log: log, db: db, alloc: alloc, by: by}
}

// Config implements Importer.
func (imp *MaterialItemImporter) Config() Config {
	return Config{
		Entity:          "material_item",
		IDO:             "SLItems",
		DuplicateColumn: "code",
		Mappings: []FieldMapping{
			{Target: "code", Sources: []string{"Item"}, Required: true},
			{Target: "name", Sources: []string{"Description"}},
			{Target: "price_per_kg", Sources: []string{"UnitCost", "AvgCost"}, Transform: toFloat},
		},
	}
}

func toFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return nil, Error.New("not a number: %v", value)
}

// MapRowCustom implements Importer.
func (imp *MaterialItemImporter) MapRowCustom(ctx context.Context, raw infor.Row, mapped Row) (Row, error) {
	code := strings.TrimSpace(mapped.String("code"))
	mapped["code"] = code
	if code == "" {
		mapped["code"] = nil
	}
	return mapped, nil
}

// CheckDuplicate implements Importer.
func (imp *MaterialItemImporter) CheckDuplicate(ctx context.Context, mapped Row) (any, error) {
	item, found, err := imp.db.GetByCode(ctx, mapped.String("code"))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return item, nil
}

// CreateEntity implements Importer.
func (imp *MaterialItemImporter) CreateEntity(ctx context.Context, mapped Row) error {
	number, err := imp.alloc.Allocate(ctx, numbers.ClassMaterial)
	if err != nil {
		return err
	}

	item := parts.MaterialItem{
		ItemNumber: number,
		Code:       mapped.String("code"),
		Name:       mapped.String("name"),
		Meta:       gestima.Meta{CreatedBy: imp.by},
	}
	item.PricePerKg, _ = mapped.Float("price_per_kg")

	_, err = imp.db.Create(ctx, item)
	return err
}

// UpdateEntity implements Importer.
func (imp *MaterialItemImporter) UpdateEntity(ctx context.Context, existing any, mapped Row) error {
	item, ok := existing.(parts.MaterialItem)
	if !ok {
		return Error.New("unexpected duplicate handle %T", existing)
	}

	if name := mapped.String("name"); name != "" {
		item.Name = name
	}
	if price, ok := mapped.Float("price_per_kg"); ok && price > 0 {
		item.PricePerKg = price
	}
	item.UpdatedBy = imp.by

	_, err := imp.db.Update(ctx, item)
	return err
}

// MaterialInputRow is a resolved SLJobmatls row ready for upsert.
type MaterialInputRow struct {
	Input       parts.MaterialInput
	OperationID *int64
	Consumed    *float64
	Errors      []string
	Warnings    []string
}

// MapMaterialInput resolves one SLJobmatls row against the material master
// and the preloaded operation cache. An unknown item code marks the row
// invalid; no MaterialItem is ever created here.
//
// MatlQtyConv is reinterpreted by unit: mm becomes a cut length, piece units
// a rounded piece count, everything else stays a raw quantity.
func MapMaterialInput(raw infor.Row, partID int64, itemsByCode map[string]parts.MaterialItem, operations map[parts.OperationKey]parts.Operation, by string) MaterialInputRow {
	row := MaterialInputRow{}

	code := strings.TrimSpace(raw.String("Item"))
	if code == "" {
		row.Errors = append(row.Errors, "missing material item code")
		return row
	}
	item, ok := itemsByCode[code]
	if !ok {
		row.Errors = append(row.Errors, "unknown material item "+code)
		return row
	}

	seq := 0
	if v, ok := raw.Float("Sequence"); ok {
		seq = int(v)
	}

	input := parts.MaterialInput{
		PartID:         partID,
		Seq:            seq,
		MaterialItemID: &item.ID,
		Shape:          item.Shape,
		Meta:           gestima.Meta{CreatedBy: by, UpdatedBy: by},
	}

	quantity, _ := raw.Float("MatlQtyConv")
	unit := strings.ToLower(strings.TrimSpace(raw.String("UM")))
	switch unit {
	case "mm":
		cut := quantity
		input.CutLengthMM = &cut
	case "ks", "pcs", "ea":
		pieces := int64(math.Round(quantity))
		input.Pieces = &pieces
	default:
		input.Quantity = quantity
	}

	if operSeq, ok := raw.Float("OperNum"); ok {
		key := parts.OperationKey{PartID: partID, Seq: int(operSeq)}
		if op, ok := operations[key]; ok {
			row.OperationID = &op.ID
			consumed := quantity
			row.Consumed = &consumed
		} else {
			row.Warnings = append(row.Warnings,
				"no operation for material linkage at seq "+raw.String("OperNum"))
		}
	}

	row.Input = input
	return row
}
