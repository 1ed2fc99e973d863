// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package batches_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gestima.io/gestima/batches"
	"gestima.io/gestima/gestima"
	"gestima.io/gestima/numbers"
	"gestima.io/gestima/private/testcontext"
)

// memBatchesDB is an in-memory batches.DB.
type memBatchesDB struct {
	nextID int64
	batch  map[int64]batches.Batch
	set    map[int64]batches.BatchSet
}

func newMemBatchesDB() *memBatchesDB {
	return &memBatchesDB{
		batch: map[int64]batches.Batch{},
		set:   map[int64]batches.BatchSet{},
	}
}

func (db *memBatchesDB) CreateBatch(ctx context.Context, batch batches.Batch) (batches.Batch, error) {
	db.nextID++
	batch.ID = db.nextID
	batch.Version = 1
	db.batch[batch.ID] = batch
	return batch, nil
}

func (db *memBatchesDB) GetBatch(ctx context.Context, id int64) (batches.Batch, error) {
	batch, ok := db.batch[id]
	if !ok {
		return batches.Batch{}, gestima.ErrNotFound.New("batch %d", id)
	}
	return batch, nil
}

func (db *memBatchesDB) UpdateBatch(ctx context.Context, batch batches.Batch) (batches.Batch, error) {
	stored := db.batch[batch.ID]
	if stored.IsFrozen {
		return batches.Batch{}, batches.ErrFrozen.New("batch %d", batch.ID)
	}
	db.batch[batch.ID] = batch
	return batch, nil
}

func (db *memBatchesDB) ListBySet(ctx context.Context, setID int64) ([]batches.Batch, error) {
	var out []batches.Batch
	for _, batch := range db.batch {
		if batch.BatchSetID != nil && *batch.BatchSetID == setID {
			out = append(out, batch)
		}
	}
	return out, nil
}

func (db *memBatchesDB) CreateSet(ctx context.Context, set batches.BatchSet) (batches.BatchSet, error) {
	db.nextID++
	set.ID = db.nextID
	set.Version = 1
	db.set[set.ID] = set
	return set, nil
}

func (db *memBatchesDB) GetSet(ctx context.Context, id int64) (batches.BatchSet, error) {
	set, ok := db.set[id]
	if !ok {
		return batches.BatchSet{}, gestima.ErrNotFound.New("set %d", id)
	}
	return set, nil
}

func (db *memBatchesDB) ListSetsByPart(ctx context.Context, partID int64) ([]batches.BatchSet, error) {
	var out []batches.BatchSet
	for _, set := range db.set {
		if set.PartID != nil && *set.PartID == partID {
			out = append(out, set)
		}
	}
	return out, nil
}

func (db *memBatchesDB) LatestFrozenSet(ctx context.Context, partID int64) (batches.BatchSet, bool, error) {
	for _, set := range db.set {
		if set.PartID != nil && *set.PartID == partID && set.Status == gestima.BatchSetFrozen {
			return set, true, nil
		}
	}
	return batches.BatchSet{}, false, nil
}

func (db *memBatchesDB) FreezeBatch(ctx context.Context, batchID int64, frozen batches.FrozenFields) error {
	batch := db.batch[batchID]
	batch.IsFrozen = true
	batch.UnitPriceFrozen = &frozen.UnitPriceFrozen
	batch.TotalPriceFrozen = &frozen.TotalPriceFrozen
	batch.SnapshotData = frozen.SnapshotData
	batch.FrozenAt = &frozen.FrozenAt
	batch.FrozenBy = frozen.FrozenBy
	db.batch[batchID] = batch
	return nil
}

func (db *memBatchesDB) FreezeSet(ctx context.Context, setID int64, by string, at time.Time) error {
	set := db.set[setID]
	if set.Status == gestima.BatchSetFrozen {
		return batches.ErrFrozen.New("set %d", setID)
	}
	set.Status = gestima.BatchSetFrozen
	set.FrozenAt = &at
	set.FrozenBy = by
	db.set[setID] = set
	return nil
}

func (db *memBatchesDB) DeleteSet(ctx context.Context, setID int64, by string) error {
	delete(db.set, setID)
	return nil
}

type allocDB struct{}

func (allocDB) CountInRange(ctx context.Context, class numbers.Class, lo, hi int64) (int64, error) {
	return 0, nil
}

func (allocDB) Existing(ctx context.Context, class numbers.Class, candidates []int64) (map[int64]struct{}, error) {
	return nil, nil
}

func (allocDB) MaxInRange(ctx context.Context, class numbers.Class, lo, hi int64) (int64, bool, error) {
	return 0, false, nil
}

func newTestService(t *testing.T) (*batches.Service, *memBatchesDB) {
	db := newMemBatchesDB()
	alloc := numbers.NewAllocator(zaptest.NewLogger(t), allocDB{}, numbers.Config{})
	return batches.NewService(zaptest.NewLogger(t), db, alloc), db
}

func TestService_CreateSetAutoName(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	service, _ := newTestService(t)
	service.TestingSetNow(func() time.Time {
		return time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	})

	set, err := service.CreateSet(ctx, nil, "", "alice")
	require.NoError(t, err)
	require.Equal(t, "2026-03-01 14:30", set.Name)
	require.Equal(t, gestima.BatchSetDraft, set.Status)

	named, err := service.CreateSet(ctx, nil, "series pricing", "alice")
	require.NoError(t, err)
	require.Equal(t, "series pricing", named.Name)
}

func TestService_FreezeBatch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	service, db := newTestService(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	service.TestingSetNow(func() time.Time { return at })

	batch, err := service.CreateBatch(ctx, batches.Batch{
		PartID:        7,
		Quantity:      50,
		MaterialCost:  200,
		OperationCost: 700,
		CoopCost:      100,
		UnitCost:      20,
		TotalCost:     1000,
	}, "alice")
	require.NoError(t, err)
	require.NotZero(t, batch.BatchNumber)
	require.False(t, batch.IsFrozen)

	require.NoError(t, service.FreezeBatch(ctx, batch.ID, "alice"))

	frozen, err := db.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.True(t, frozen.IsFrozen)
	require.NotNil(t, frozen.UnitPriceFrozen)
	require.Equal(t, 20.0, *frozen.UnitPriceFrozen)
	require.NotNil(t, frozen.TotalPriceFrozen)
	require.Equal(t, 1000.0, *frozen.TotalPriceFrozen)
	require.Equal(t, "alice", frozen.FrozenBy)

	var snapshot batches.Snapshot
	require.NoError(t, json.Unmarshal(frozen.SnapshotData, &snapshot))
	require.Equal(t, batch.BatchNumber, snapshot.BatchNumber)
	require.Equal(t, 50.0, snapshot.Quantity)
	require.Equal(t, 1000.0, snapshot.Costs.TotalCost)
	require.Equal(t, at, snapshot.FrozenAt)

	// freezing twice is refused
	err = service.FreezeBatch(ctx, batch.ID, "alice")
	require.True(t, batches.ErrFrozen.Has(err))

	// a frozen batch refuses updates
	frozen.UnitCost = 5
	_, err = db.UpdateBatch(ctx, frozen)
	require.True(t, batches.ErrFrozen.Has(err))
}

func TestService_FreezeSet(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	service, db := newTestService(t)

	partID := int64(7)
	set, err := service.CreateSet(ctx, &partID, "series", "alice")
	require.NoError(t, err)

	var members []batches.Batch
	for _, quantity := range []float64{10, 50, 100} {
		batch, err := service.CreateBatch(ctx, batches.Batch{
			PartID:     partID,
			BatchSetID: &set.ID,
			Quantity:   quantity,
			UnitCost:   100 / quantity,
			TotalCost:  100,
		}, "alice")
		require.NoError(t, err)
		members = append(members, batch)
	}

	require.NoError(t, service.FreezeSet(ctx, set.ID, "alice"))

	stored, err := db.GetSet(ctx, set.ID)
	require.NoError(t, err)
	require.Equal(t, gestima.BatchSetFrozen, stored.Status)
	require.NotNil(t, stored.FrozenAt)

	for _, member := range members {
		frozen, err := db.GetBatch(ctx, member.ID)
		require.NoError(t, err)
		require.True(t, frozen.IsFrozen)
		require.NotEmpty(t, frozen.SnapshotData)
	}

	err = service.FreezeSet(ctx, set.ID, "alice")
	require.True(t, batches.ErrFrozen.Has(err))
}

func TestMatchBatch(t *testing.T) {
	candidates := []batches.Batch{
		{ID: 1, Quantity: 10},
		{ID: 2, Quantity: 50},
		{ID: 3, Quantity: 100},
	}

	batch, kind, warnings := batches.MatchBatch(candidates, 50)
	require.Equal(t, batches.MatchExact, kind)
	require.Equal(t, int64(2), batch.ID)
	require.Empty(t, warnings)

	batch, kind, warnings = batches.MatchBatch(candidates, 70)
	require.Equal(t, batches.MatchLower, kind)
	require.Equal(t, int64(2), batch.ID)
	require.NotEmpty(t, warnings)

	_, kind, warnings = batches.MatchBatch(candidates, 5)
	require.Equal(t, batches.MatchMissing, kind)
	require.NotEmpty(t, warnings)
}
