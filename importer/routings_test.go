// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package importer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gestima.io/gestima/importer"
	"gestima.io/gestima/infor"
	"gestima.io/gestima/parts"
	"gestima.io/gestima/private/testcontext"
	"gestima.io/gestima/workcenters"
)

// memOperationsDB keeps operations keyed by (part, seq).
type memOperationsDB struct {
	nextID int64
	ops    map[parts.OperationKey]parts.Operation
}

func newMemOperationsDB() *memOperationsDB {
	return &memOperationsDB{ops: map[parts.OperationKey]parts.Operation{}}
}

func (db *memOperationsDB) Upsert(ctx context.Context, op parts.Operation) (parts.Operation, error) {
	key := parts.OperationKey{PartID: op.PartID, Seq: op.Seq}
	if existing, ok := db.ops[key]; ok {
		op.ID = existing.ID
		op.Version = existing.Version + 1
	} else {
		db.nextID++
		op.ID = db.nextID
		op.Version = 1
	}
	db.ops[key] = op
	return op, nil
}

func (db *memOperationsDB) GetBySeq(ctx context.Context, partID int64, seq int) (parts.Operation, bool, error) {
	op, ok := db.ops[parts.OperationKey{PartID: partID, Seq: seq}]
	return op, ok, nil
}

func (db *memOperationsDB) ListByPart(ctx context.Context, partID int64) ([]parts.Operation, error) {
	var out []parts.Operation
	for _, op := range db.ops {
		if op.PartID == partID {
			out = append(out, op)
		}
	}
	return out, nil
}

func (db *memOperationsDB) MapByKeys(ctx context.Context, keys []parts.OperationKey) (map[parts.OperationKey]parts.Operation, error) {
	out := map[parts.OperationKey]parts.Operation{}
	for _, key := range keys {
		if op, ok := db.ops[key]; ok {
			out[key] = op
		}
	}
	return out, nil
}

// wcDB serves one work center.
type wcDB struct {
	workcenters.DB
}

func (wcDB) GetByNumber(ctx context.Context, number int64) (workcenters.WorkCenter, bool, error) {
	if number == 80000001 {
		return workcenters.WorkCenter{ID: 11, Number: number}, true, nil
	}
	return workcenters.WorkCenter{}, false, nil
}

func (wcDB) GetByNumbers(ctx context.Context, numbers []int64) (map[int64]workcenters.WorkCenter, error) {
	return nil, nil
}

func routingKernel(t *testing.T) (*importer.Kernel, *memOperationsDB) {
	log := zaptest.NewLogger(t)
	db := newMemOperationsDB()
	resolver := workcenters.NewResolver(log, wcDB{}, workcenters.Mapping{"SOU": 80000001})
	imp := importer.NewJobRoutingImporter(log, db, resolver, 7, "sync")
	return importer.NewKernel(log, passTx{}, imp), db
}

func runRouting(t *testing.T, kernel *importer.Kernel, ctx context.Context, rows []infor.Row) importer.Result {
	t.Helper()
	preview, err := kernel.PreviewImport(ctx, rows)
	require.NoError(t, err)
	for i := range preview.Rows {
		preview.Rows[i].DuplicateAction = importer.DuplicateUpdate
	}
	result, err := kernel.ExecuteImport(ctx, preview.Rows)
	require.NoError(t, err)
	return result
}

func TestRoutingImport_TimeConversions(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	kernel, db := routingKernel(t)
	result := runRouting(t, kernel, ctx, []infor.Row{{
		"OperNum":      float64(10),
		"Wc":           "SOU1",
		"DerRunMchHrs": float64(30), // pieces per hour
		"DerRunLbrHrs": float64(60),
		"JshSetupHrs":  float64(0.5),
	}})
	require.Equal(t, 1, result.Created)

	op, found, err := db.GetBySeq(ctx, 7, 10)
	require.NoError(t, err)
	require.True(t, found)
	require.InDelta(t, 2.0, op.OperationTimeMin, 1e-9)
	require.InDelta(t, 50.0, op.ManningPercent, 1e-9)
	require.InDelta(t, 30.0, op.SetupTimeMin, 1e-9)
	require.InDelta(t, 100.0, op.UtilizationPercent, 1e-9)
	require.False(t, op.IsCoop)
	require.NotNil(t, op.WorkCenterID)
	require.Equal(t, int64(11), *op.WorkCenterID)
}

func TestRoutingImport_SetupFallsBackToScheduled(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	kernel, db := routingKernel(t)
	runRouting(t, kernel, ctx, []infor.Row{{
		"OperNum":      float64(10),
		"Wc":           "SOU1",
		"DerRunMchHrs": float64(60),
		"JshSchedHrs":  float64(0.25),
	}})

	op, _, err := db.GetBySeq(ctx, 7, 10)
	require.NoError(t, err)
	require.InDelta(t, 15.0, op.SetupTimeMin, 1e-9)
	// no labor hours means full manning
	require.InDelta(t, 100.0, op.ManningPercent, 1e-9)
}

func TestRoutingImport_SkipRules(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	kernel, db := routingKernel(t)
	preview, err := kernel.PreviewImport(ctx, []infor.Row{
		{"OperNum": float64(10), "Wc": "CLO1"},
		{"OperNum": float64(20), "Wc": "CADCAM"},
		{"OperNum": float64(30), "Wc": "SOU1", "ObsDate": "2025-12-31 00:00:00"},
		{"OperNum": float64(40), "Wc": "SOU1", "DerRunMchHrs": float64(60)},
	})
	require.NoError(t, err)
	require.Equal(t, 3, preview.SkippedCount)
	require.Len(t, preview.Rows, 1)

	_, err = kernel.ExecuteImport(ctx, preview.Rows)
	require.NoError(t, err)
	require.Len(t, db.ops, 1)
}

func TestRoutingImport_CoopZeroesTimes(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	kernel, db := routingKernel(t)
	runRouting(t, kernel, ctx, []infor.Row{{
		"OperNum":      float64(10),
		"Wc":           "KOO5",
		"DerRunMchHrs": float64(30),
		"JshSetupHrs":  float64(1),
	}})

	op, _, err := db.GetBySeq(ctx, 7, 10)
	require.NoError(t, err)
	require.True(t, op.IsCoop)
	require.Zero(t, op.OperationTimeMin)
	require.Zero(t, op.SetupTimeMin)
	require.InDelta(t, 100.0, op.ManningPercent, 1e-9)
}

func TestRoutingImport_UpsertIsIdempotent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	kernel, db := routingKernel(t)
	rows := []infor.Row{{
		"OperNum":      float64(10),
		"Wc":           "SOU1",
		"DerRunMchHrs": float64(60),
	}}

	result := runRouting(t, kernel, ctx, rows)
	require.Equal(t, 1, result.Created)

	rows[0]["DerRunMchHrs"] = float64(30)
	result = runRouting(t, kernel, ctx, rows)
	require.Equal(t, 1, result.Updated)

	require.Len(t, db.ops, 1)
	op, _, err := db.GetBySeq(ctx, 7, 10)
	require.NoError(t, err)
	require.InDelta(t, 2.0, op.OperationTimeMin, 1e-9)
}

func TestMapMaterialInput(t *testing.T) {
	items := map[string]parts.MaterialItem{
		"11SMn30-D20": {ID: 4, Code: "11SMn30-D20", Shape: "round_bar"},
	}
	operations := map[parts.OperationKey]parts.Operation{
		{PartID: 7, Seq: 10}: {ID: 21, PartID: 7, Seq: 10},
	}

	t.Run("cut length", func(t *testing.T) {
		row := importer.MapMaterialInput(infor.Row{
			"Item":        "11SMn30-D20",
			"Sequence":    float64(1),
			"OperNum":     float64(10),
			"MatlQtyConv": float64(125.5),
			"UM":          "mm",
		}, 7, items, operations, "sync")

		require.Empty(t, row.Errors)
		require.Equal(t, int64(7), row.Input.PartID)
		require.Equal(t, "round_bar", row.Input.Shape)
		require.NotNil(t, row.Input.CutLengthMM)
		require.InDelta(t, 125.5, *row.Input.CutLengthMM, 1e-9)
		require.NotNil(t, row.OperationID)
		require.Equal(t, int64(21), *row.OperationID)
	})

	t.Run("pieces are rounded", func(t *testing.T) {
		row := importer.MapMaterialInput(infor.Row{
			"Item":        "11SMn30-D20",
			"Sequence":    float64(2),
			"MatlQtyConv": float64(2.6),
			"UM":          "ks",
		}, 7, items, operations, "sync")

		require.Empty(t, row.Errors)
		require.NotNil(t, row.Input.Pieces)
		require.Equal(t, int64(3), *row.Input.Pieces)
	})

	t.Run("unknown item is an error", func(t *testing.T) {
		row := importer.MapMaterialInput(infor.Row{
			"Item": "UNKNOWN-42",
		}, 7, items, operations, "sync")
		require.NotEmpty(t, row.Errors)
	})

	t.Run("missing operation is a warning", func(t *testing.T) {
		row := importer.MapMaterialInput(infor.Row{
			"Item":        "11SMn30-D20",
			"Sequence":    float64(3),
			"OperNum":     float64(99),
			"MatlQtyConv": float64(10),
			"UM":          "kg",
		}, 7, items, operations, "sync")

		require.Empty(t, row.Errors)
		require.Nil(t, row.OperationID)
		require.NotEmpty(t, row.Warnings)
		require.InDelta(t, 10.0, row.Input.Quantity, 1e-9)
	})
}
