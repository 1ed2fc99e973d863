// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package production stores append-only production telemetry mirrored from
// the ERP.
package production

import (
	"context"

	"github.com/zeebo/errs"

	"gestima.io/gestima/gestima"
)

// Error is the default production errs class.
var Error = errs.Class("production")

// Record is one operation's telemetry for one production order. Duplicates
// are merged by (part, order, seq).
type Record struct {
	ID     int64
	PartID int64

	InforOrderNumber string
	OperationSeq     int

	WorkCenterID *int64

	// Per-piece planned times from the routing norms.
	PlannedSetupMin     float64
	PlannedOperationMin float64

	// Per-piece actuals computed from batch totals divided by the released
	// quantity.
	ActualSetupMin     float64
	ActualOperationMin float64

	PlannedManningPercent float64
	ActualManningPercent  float64

	ReleasedQuantity float64

	IsCoop bool

	gestima.Meta
}

// Key addresses a record by its merge identity.
type Key struct {
	PartID           int64
	InforOrderNumber string
	OperationSeq     int
}

// DB is the production telemetry storage interface.
type DB interface {
	// Upsert creates or merges by (part_id, infor_order_number, operation_seq).
	Upsert(ctx context.Context, record Record) (Record, error)
	Get(ctx context.Context, key Key) (Record, bool, error)
	ListByPart(ctx context.Context, partID int64) ([]Record, error)
}
