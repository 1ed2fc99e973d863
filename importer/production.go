// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package importer

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/infor"
	"gestima.io/gestima/production"
	"gestima.io/gestima/workcenters"
)

// ProductionImporter imports production telemetry (SLJobRoutes Type J) for
// one part. Planned times come from the norms; actuals are batch totals
// divided by the released quantity.
type ProductionImporter struct {
	log      *zap.Logger
	db       production.DB
	resolver *workcenters.Resolver
	partID   int64
	by       string
}

// NewProductionImporter creates a production importer bound to one part.
func NewProductionImporter(log *zap.Logger, db production.DB, resolver *workcenters.Resolver, partID int64, by string) *ProductionImporter {
	return &ProductionImporter{log: log, db: db, resolver: resolver, partID: partID, by: by}
}

// Config implements Importer.
func (imp *ProductionImporter) Config() Config {
	return Config{
		Entity:          "production_record",
		IDO:             "SLJobRoutes",
		DuplicateColumn: "infor_order_number",
		Mappings: []FieldMapping{
			{Target: "infor_order_number", Sources: []string{"Job"}, Required: true},
			{Target: "seq", Sources: []string{"OperNum"}, Required: true, Transform: toInt},
			{Target: "work_center_code", Sources: []string{"Wc"}},
		},
	}
}

// MapRowCustom implements Importer with the shared skip/coop rules.
func (imp *ProductionImporter) MapRowCustom(ctx context.Context, raw infor.Row, mapped Row) (Row, error) {
	if skipRoutingRow(raw) {
		mapped[SkipKey] = true
		return mapped, nil
	}

	released, _ := raw.Float("QtyReleased")
	mapped["released_quantity"] = released

	if isCoopRow(raw) {
		mapped["is_coop"] = true
		mapped["planned_setup_min"] = float64(0)
		mapped["planned_operation_min"] = float64(0)
		mapped["actual_setup_min"] = float64(0)
		mapped["actual_operation_min"] = float64(0)
		mapped["planned_manning_percent"] = float64(100)
		mapped["actual_manning_percent"] = float64(100)
		return mapped, nil
	}
	mapped["is_coop"] = false

	plannedOperation, plannedManning, plannedSetup := routingTimes(raw)
	mapped["planned_operation_min"] = plannedOperation
	mapped["planned_setup_min"] = plannedSetup
	mapped["planned_manning_percent"] = plannedManning

	// actuals: reported batch totals divided by the released quantity
	var actualOperation, actualManning float64
	if released > 0 {
		if mchTotal, ok := raw.Float("RunMchHrsT"); ok && mchTotal > 0 {
			actualOperation = mchTotal * 60 / released
			if lbrTotal, ok := raw.Float("RunLbrHrsT"); ok && lbrTotal > 0 {
				actualManning = (lbrTotal / mchTotal) * 100
			}
		}
	}
	if actualManning == 0 {
		actualManning = 100
	}
	mapped["actual_operation_min"] = actualOperation
	mapped["actual_manning_percent"] = actualManning

	var actualSetup float64
	if setupTotal, ok := raw.Float("SetupHrsT"); ok && setupTotal > 0 {
		actualSetup = setupTotal * 60
	}
	mapped["actual_setup_min"] = actualSetup

	code := strings.TrimSpace(mapped.String("work_center_code"))
	if code != "" {
		id, warning, err := imp.resolver.Resolve(ctx, code)
		if err != nil {
			return nil, err
		}
		if warning != "" {
			imp.log.Warn("work center unresolved",
				zap.Int64("part_id", imp.partID), zap.String("code", code))
		}
		if id != 0 {
			mapped["work_center_id"] = id
		}
	}
	return mapped, nil
}

// CheckDuplicate implements Importer, keyed by (part, order, seq).
func (imp *ProductionImporter) CheckDuplicate(ctx context.Context, mapped Row) (any, error) {
	seq, ok := mapped["seq"].(int)
	if !ok {
		return nil, nil
	}
	record, found, err := imp.db.Get(ctx, production.Key{
		PartID:           imp.partID,
		InforOrderNumber: mapped.String("infor_order_number"),
		OperationSeq:     seq,
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return record, nil
}

// CreateEntity implements Importer.
func (imp *ProductionImporter) CreateEntity(ctx context.Context, mapped Row) error {
	return imp.upsert(ctx, mapped)
}

// UpdateEntity implements Importer.
func (imp *ProductionImporter) UpdateEntity(ctx context.Context, existing any, mapped Row) error {
	return imp.upsert(ctx, mapped)
}

func (imp *ProductionImporter) upsert(ctx context.Context, mapped Row) error {
	seq, ok := mapped["seq"].(int)
	if !ok {
		return Error.New("production row has no sequence")
	}

	record := production.Record{
		PartID:           imp.partID,
		InforOrderNumber: mapped.String("infor_order_number"),
		OperationSeq:     seq,
		Meta:             gestima.Meta{CreatedBy: imp.by, UpdatedBy: imp.by},
	}
	record.IsCoop, _ = mapped["is_coop"].(bool)
	record.PlannedSetupMin, _ = mapped.Float("planned_setup_min")
	record.PlannedOperationMin, _ = mapped.Float("planned_operation_min")
	record.ActualSetupMin, _ = mapped.Float("actual_setup_min")
	record.ActualOperationMin, _ = mapped.Float("actual_operation_min")
	record.PlannedManningPercent, _ = mapped.Float("planned_manning_percent")
	record.ActualManningPercent, _ = mapped.Float("actual_manning_percent")
	record.ReleasedQuantity, _ = mapped.Float("released_quantity")
	if id, ok := mapped["work_center_id"].(int64); ok {
		record.WorkCenterID = &id
	}

	_, err := imp.db.Upsert(ctx, record)
	return err
}
