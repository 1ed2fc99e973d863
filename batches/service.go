// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package batches

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/numbers"
)

var mon = monkit.Package()

// Service creates batches and sets and performs the irreversible freeze.
type Service struct {
	log   *zap.Logger
	db    DB
	alloc *numbers.Allocator

	nowFn func() time.Time
}

// NewService creates a batch service.
func NewService(log *zap.Logger, db DB, alloc *numbers.Allocator) *Service {
	return &Service{
		log:   log,
		db:    db,
		alloc: alloc,
		nowFn: time.Now,
	}
}

// TestingSetNow overrides the clock.
func (service *Service) TestingSetNow(nowFn func() time.Time) { service.nowFn = nowFn }

// CreateSet creates a draft set. An empty name is auto-filled with the
// current timestamp.
func (service *Service) CreateSet(ctx context.Context, partID *int64, name, by string) (_ BatchSet, err error) {
	defer mon.Task()(&ctx)(&err)

	if name == "" {
		name = service.nowFn().Format("2006-01-02 15:04")
	}

	number, err := service.alloc.Allocate(ctx, numbers.ClassBatchSet)
	if err != nil {
		return BatchSet{}, Error.Wrap(err)
	}

	set, err := service.db.CreateSet(ctx, BatchSet{
		SetNumber: number,
		PartID:    partID,
		Name:      name,
		Status:    gestima.BatchSetDraft,
		Meta:      gestima.Meta{CreatedBy: by},
	})
	if err != nil {
		return BatchSet{}, Error.Wrap(err)
	}

	service.log.Info("batch set created",
		zap.Int64("set_number", set.SetNumber), zap.String("by", by))
	return set, nil
}

// CreateBatch allocates a batch number and stores the batch.
func (service *Service) CreateBatch(ctx context.Context, batch Batch, by string) (_ Batch, err error) {
	defer mon.Task()(&ctx)(&err)

	number, err := service.alloc.Allocate(ctx, numbers.ClassBatch)
	if err != nil {
		return Batch{}, Error.Wrap(err)
	}
	batch.BatchNumber = number
	batch.CreatedBy = by

	created, err := service.db.CreateBatch(ctx, batch)
	if err != nil {
		return Batch{}, Error.Wrap(err)
	}

	service.log.Info("batch created",
		zap.Int64("batch_number", created.BatchNumber),
		zap.Int64("part_id", created.PartID),
		zap.String("by", by))
	return created, nil
}

// FreezeBatch freezes a single batch: the unit cost becomes the frozen unit
// price and a snapshot document is written. Freezing is irreversible.
func (service *Service) FreezeBatch(ctx context.Context, batchID int64, by string) (err error) {
	defer mon.Task()(&ctx)(&err)

	batch, err := service.db.GetBatch(ctx, batchID)
	if err != nil {
		return Error.Wrap(err)
	}
	if batch.IsFrozen {
		return ErrFrozen.New("batch %d is already frozen", batch.BatchNumber)
	}

	frozen, err := service.frozenFields(batch, by)
	if err != nil {
		return err
	}
	if err := service.db.FreezeBatch(ctx, batchID, frozen); err != nil {
		return Error.Wrap(err)
	}

	service.log.Info("batch frozen",
		zap.Int64("batch_number", batch.BatchNumber), zap.String("by", by))
	return nil
}

// FreezeSet freezes the set and every unfrozen member batch.
func (service *Service) FreezeSet(ctx context.Context, setID int64, by string) (err error) {
	defer mon.Task()(&ctx)(&err)

	set, err := service.db.GetSet(ctx, setID)
	if err != nil {
		return Error.Wrap(err)
	}
	if set.Status == gestima.BatchSetFrozen {
		return ErrFrozen.New("set %d is already frozen", set.SetNumber)
	}

	members, err := service.db.ListBySet(ctx, setID)
	if err != nil {
		return Error.Wrap(err)
	}

	for _, batch := range members {
		if batch.IsFrozen {
			continue
		}
		frozen, err := service.frozenFields(batch, by)
		if err != nil {
			return err
		}
		if err := service.db.FreezeBatch(ctx, batch.ID, frozen); err != nil {
			return Error.Wrap(err)
		}
	}

	if err := service.db.FreezeSet(ctx, setID, by, service.nowFn().UTC()); err != nil {
		return Error.Wrap(err)
	}

	service.log.Info("batch set frozen",
		zap.Int64("set_number", set.SetNumber),
		zap.Int("batches", len(members)),
		zap.String("by", by))
	return nil
}

func (service *Service) frozenFields(batch Batch, by string) (FrozenFields, error) {
	at := service.nowFn().UTC()
	snapshot := Snapshot{
		BatchNumber: batch.BatchNumber,
		PartID:      batch.PartID,
		Quantity:    batch.Quantity,
		Costs: SnapshotCosts{
			MaterialCost:  batch.MaterialCost,
			OperationCost: batch.OperationCost,
			CoopCost:      batch.CoopCost,
			UnitCost:      batch.UnitCost,
			TotalCost:     batch.TotalCost,
		},
		FrozenBy: by,
		FrozenAt: at,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return FrozenFields{}, Error.Wrap(err)
	}
	return FrozenFields{
		UnitPriceFrozen:  batch.UnitCost,
		TotalPriceFrozen: batch.TotalCost,
		SnapshotData:     data,
		FrozenAt:         at,
		FrozenBy:         by,
	}, nil
}
