// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package batches manages cost batches and pricing snapshot groups.
package batches

import (
	"context"
	"fmt"
	"time"

	"github.com/zeebo/errs"

	"gestima.io/gestima/gestima"
)

var (
	// Error is the default batches errs class.
	Error = errs.Class("batches")
	// ErrFrozen means a mutation targeted an already frozen batch or set.
	ErrFrozen = errs.Class("batch frozen")
)

// Batch is a cost calculation for a part at a specific quantity.
type Batch struct {
	ID          int64
	BatchNumber int64
	PartID      int64
	BatchSetID  *int64

	Quantity float64

	MaterialCost  float64
	OperationCost float64
	CoopCost      float64
	UnitCost      float64
	TotalCost     float64

	IsFrozen bool
	FrozenAt *time.Time
	FrozenBy string

	UnitPriceFrozen  *float64
	TotalPriceFrozen *float64

	// SnapshotData is the JSON freeze snapshot; never recomputed after the
	// freeze.
	SnapshotData []byte

	gestima.Meta
}

// BatchSet is a named pricing snapshot group of batches for a part.
type BatchSet struct {
	ID        int64
	SetNumber int64
	PartID    *int64
	Name      string
	Status    gestima.BatchSetStatus

	FrozenAt *time.Time
	FrozenBy string

	gestima.Meta
}

// Snapshot is the frozen cost record written into Batch.SnapshotData.
type Snapshot struct {
	BatchNumber int64         `json:"batch_number"`
	PartID      int64         `json:"part_id"`
	Quantity    float64       `json:"quantity"`
	Costs       SnapshotCosts `json:"costs"`
	FrozenBy    string        `json:"frozen_by"`
	FrozenAt    time.Time     `json:"frozen_at"`
}

// SnapshotCosts carries the cost components at freeze time.
type SnapshotCosts struct {
	MaterialCost  float64 `json:"material_cost"`
	OperationCost float64 `json:"operation_cost"`
	CoopCost      float64 `json:"coop_cost"`
	UnitCost      float64 `json:"unit_cost"`
	TotalCost     float64 `json:"total_cost"`
}

// FrozenFields is the batch state written by a freeze.
type FrozenFields struct {
	UnitPriceFrozen  float64
	TotalPriceFrozen float64
	SnapshotData     []byte
	FrozenAt         time.Time
	FrozenBy         string
}

// DB is the batch storage interface.
type DB interface {
	CreateBatch(ctx context.Context, batch Batch) (Batch, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	UpdateBatch(ctx context.Context, batch Batch) (Batch, error)
	ListBySet(ctx context.Context, setID int64) ([]Batch, error)

	CreateSet(ctx context.Context, set BatchSet) (BatchSet, error)
	GetSet(ctx context.Context, id int64) (BatchSet, error)
	ListSetsByPart(ctx context.Context, partID int64) ([]BatchSet, error)
	// LatestFrozenSet returns the most recently updated frozen set for the
	// part.
	LatestFrozenSet(ctx context.Context, partID int64) (BatchSet, bool, error)

	// FreezeBatch writes the frozen fields and marks the batch frozen.
	FreezeBatch(ctx context.Context, batchID int64, frozen FrozenFields) error
	// FreezeSet marks the set frozen.
	FreezeSet(ctx context.Context, setID int64, by string, at time.Time) error
	// DeleteSet tombstones the set and cascades to its member batches.
	DeleteSet(ctx context.Context, setID int64, by string) error
}

// MatchKind describes how a batch was matched against a requested quantity.
type MatchKind string

// Match kinds.
const (
	MatchExact   MatchKind = "exact"
	MatchLower   MatchKind = "lower"
	MatchMissing MatchKind = "missing"
)

// MatchBatch picks the batch best matching the requested quantity: an exact
// quantity match, otherwise the largest batch below the requested quantity,
// otherwise nothing.
func MatchBatch(candidates []Batch, quantity float64) (Batch, MatchKind, []string) {
	for _, batch := range candidates {
		if batch.Quantity == quantity {
			return batch, MatchExact, nil
		}
	}

	var best Batch
	found := false
	for _, batch := range candidates {
		if batch.Quantity < quantity && (!found || batch.Quantity > best.Quantity) {
			best = batch
			found = true
		}
	}
	if found {
		return best, MatchLower, []string{fmt.Sprintf(
			"no batch for quantity %v, using closest lower quantity %v", quantity, best.Quantity)}
	}

	available := make([]float64, 0, len(candidates))
	for _, batch := range candidates {
		available = append(available, batch.Quantity)
	}
	return Batch{}, MatchMissing, []string{fmt.Sprintf(
		"no suitable batch for quantity %v, available quantities %v", quantity, available)}
}
