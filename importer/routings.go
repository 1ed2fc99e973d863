// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package importer

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/infor"
	"gestima.io/gestima/parts"
	"gestima.io/gestima/workcenters"
)

// Routing work-center code rules shared by routing and production imports.
const (
	codePrefixClosed = "CLO"
	codeCADCAM       = "CADCAM"
	codePrefixCoop   = "KOO"
)

// skipRoutingRow applies the shared exclusion rules: closed codes, the CAD/CAM
// pseudo work center and obsoleted rows.
func skipRoutingRow(raw infor.Row) bool {
	code := strings.ToUpper(strings.TrimSpace(raw.String("Wc")))
	if strings.HasPrefix(code, codePrefixClosed) || code == codeCADCAM {
		return true
	}
	return !raw.Empty("ObsDate")
}

// isCoopRow reports whether the row is an external cooperation step.
func isCoopRow(raw infor.Row) bool {
	code := strings.ToUpper(strings.TrimSpace(raw.String("Wc")))
	return strings.HasPrefix(code, codePrefixCoop)
}

// routingTimes converts external hour figures into per-piece minutes.
// DerRunMchHrs arrives as pieces per hour.
func routingTimes(raw infor.Row) (operationMin, manningPercent, setupMin float64) {
	if mchHrs, ok := raw.Float("DerRunMchHrs"); ok && mchHrs > 0 {
		operationMin = 60 / mchHrs
		if lbrHrs, ok := raw.Float("DerRunLbrHrs"); ok && lbrHrs > 0 {
			manningPercent = (mchHrs / lbrHrs) * 100
		}
	}
	if manningPercent == 0 {
		manningPercent = 100
	}

	if setupHrs, ok := raw.Float("JshSetupHrs"); ok && setupHrs > 0 {
		setupMin = setupHrs * 60
	} else if schedHrs, ok := raw.Float("JshSchedHrs"); ok && schedHrs > 0 {
		setupMin = schedHrs * 60
	}
	return operationMin, manningPercent, setupMin
}

// JobRoutingImporter imports standard routings (SLJobRoutes Type S) for one
// part.
type JobRoutingImporter struct {
	log      *zap.Logger
	db       parts.OperationsDB
	resolver *workcenters.Resolver
	partID   int64
	by       string
}

// NewJobRoutingImporter creates a routing importer bound to one part.
func NewJobRoutingImporter(log *zap.Logger, db parts.OperationsDB, resolver *workcenters.Resolver, partID int64, by string) *JobRoutingImporter {
	return &JobRoutingImporter{log: log, db: db, resolver: resolver, partID: partID, by: by}
}

// Config implements Importer.
func (imp *JobRoutingImporter) Config() Config {
	return Config{
		Entity:          "operation",
		IDO:             "SLJobRoutes",
		DuplicateColumn: "seq",
		Mappings: []FieldMapping{
			{Target: "seq", Sources: []string{"OperNum"}, Required: true, Transform: toInt},
			{Target: "work_center_code", Sources: []string{"Wc"}},
		},
	}
}

func toInt(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	}
	return nil, Error.New("not a number: %v", value)
}

// MapRowCustom implements Importer. Applies the skip rules, the coop rule and
// the time conversions.
func (imp *JobRoutingImporter) MapRowCustom(ctx context.Context, raw infor.Row, mapped Row) (Row, error) {
	if skipRoutingRow(raw) {
		mapped[SkipKey] = true
		return mapped, nil
	}

	if isCoopRow(raw) {
		mapped["is_coop"] = true
		mapped["operation_time_min"] = float64(0)
		mapped["setup_time_min"] = float64(0)
		mapped["manning_percent"] = float64(100)
		return mapped, nil
	}

	operationMin, manningPercent, setupMin := routingTimes(raw)
	mapped["is_coop"] = false
	mapped["operation_time_min"] = operationMin
	mapped["setup_time_min"] = setupMin
	mapped["manning_percent"] = manningPercent

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

// CheckDuplicate implements Importer, keyed by (part, seq).
func (imp *JobRoutingImporter) CheckDuplicate(ctx context.Context, mapped Row) (any, error) {
	seq, ok := mapped["seq"].(int)
	if !ok {
		return nil, nil
	}
	op, found, err := imp.db.GetBySeq(ctx, imp.partID, seq)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return op, nil
}

// CreateEntity implements Importer.
func (imp *JobRoutingImporter) CreateEntity(ctx context.Context, mapped Row) error {
	return imp.upsert(ctx, mapped)
}

// UpdateEntity implements Importer. Routing rows are upserts; the existing
// handle is not needed.
func (imp *JobRoutingImporter) UpdateEntity(ctx context.Context, existing any, mapped Row) error {
	return imp.upsert(ctx, mapped)
}

func (imp *JobRoutingImporter) upsert(ctx context.Context, mapped Row) error {
	seq, ok := mapped["seq"].(int)
	if !ok {
		return Error.New("routing row has no sequence")
	}

	op := parts.Operation{
		PartID:             imp.partID,
		Seq:                seq,
		UtilizationPercent: 100,
		Meta:               gestima.Meta{CreatedBy: imp.by, UpdatedBy: imp.by},
	}
	op.IsCoop, _ = mapped["is_coop"].(bool)
	op.OperationTimeMin, _ = mapped.Float("operation_time_min")
	op.SetupTimeMin, _ = mapped.Float("setup_time_min")
	op.ManningPercent, _ = mapped.Float("manning_percent")
	if id, ok := mapped["work_center_id"].(int64); ok {
		op.WorkCenterID = &id
	}

	_, err := imp.db.Upsert(ctx, op)
	return err
}
