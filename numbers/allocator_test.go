// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package numbers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gestima.io/gestima/numbers"
	"gestima.io/gestima/private/testcontext"
)

// fakeDB keeps taken numbers in memory.
type fakeDB struct {
	taken map[numbers.Class]map[int64]struct{}
}

func newFakeDB() *fakeDB {
	return &fakeDB{taken: map[numbers.Class]map[int64]struct{}{}}
}

func (db *fakeDB) take(class numbers.Class, ns ...int64) {
	if db.taken[class] == nil {
		db.taken[class] = map[int64]struct{}{}
	}
	for _, n := range ns {
		db.taken[class][n] = struct{}{}
	}
}

func (db *fakeDB) CountInRange(ctx context.Context, class numbers.Class, lo, hi int64) (int64, error) {
	var count int64
	for n := range db.taken[class] {
		if n >= lo && n <= hi {
			count++
		}
	}
	return count, nil
}

func (db *fakeDB) Existing(ctx context.Context, class numbers.Class, candidates []int64) (map[int64]struct{}, error) {
	out := map[int64]struct{}{}
	for _, c := range candidates {
		if _, ok := db.taken[class][c]; ok {
			out[c] = struct{}{}
		}
	}
	return out, nil
}

func (db *fakeDB) MaxInRange(ctx context.Context, class numbers.Class, lo, hi int64) (int64, bool, error) {
	var max int64
	found := false
	for n := range db.taken[class] {
		if n >= lo && n <= hi && n > max {
			max, found = n, true
		}
	}
	return max, found, nil
}

func TestAllocate_InRange(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	alloc := numbers.NewAllocator(zaptest.NewLogger(t), newFakeDB(), numbers.Config{})

	for _, class := range []numbers.Class{
		numbers.ClassPart, numbers.ClassMaterial, numbers.ClassBatch,
		numbers.ClassBatchSet, numbers.ClassQuote, numbers.ClassPartner,
	} {
		r := alloc.RangeFor(class)
		n, err := alloc.Allocate(ctx, class)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, r.Lo)
		require.LessOrEqual(t, n, r.Hi)
	}
}

func TestAllocateBatch_Distinct(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	alloc := numbers.NewAllocator(zaptest.NewLogger(t), newFakeDB(), numbers.Config{})

	batch, err := alloc.AllocateBatch(ctx, numbers.ClassPart, 100)
	require.NoError(t, err)
	require.Len(t, batch, 100)

	seen := map[int64]struct{}{}
	for _, n := range batch {
		_, dup := seen[n]
		require.False(t, dup, "duplicate %d", n)
		seen[n] = struct{}{}
	}
}

func TestAllocateBatch_SizeBounds(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	alloc := numbers.NewAllocator(zaptest.NewLogger(t), newFakeDB(), numbers.Config{})

	_, err := alloc.AllocateBatch(ctx, numbers.ClassPart, 0)
	require.True(t, numbers.ErrInvalidBatchSize.Has(err))

	_, err = alloc.AllocateBatch(ctx, numbers.ClassPart, 1001)
	require.True(t, numbers.ErrInvalidBatchSize.Has(err))
}

func TestAllocate_SkipsTaken(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	alloc := numbers.NewAllocator(zaptest.NewLogger(t), db, numbers.Config{})

	first, err := alloc.Allocate(ctx, numbers.ClassPartner)
	require.NoError(t, err)
	db.take(numbers.ClassPartner, first)

	for i := 0; i < 50; i++ {
		n, err := alloc.Allocate(ctx, numbers.ClassPartner)
		require.NoError(t, err)
		_, taken := db.taken[numbers.ClassPartner][n]
		require.False(t, taken)
		db.take(numbers.ClassPartner, n)
	}
}

// saturatedDB reports every candidate as taken.
type saturatedDB struct{ *fakeDB }

func (db saturatedDB) CountInRange(ctx context.Context, class numbers.Class, lo, hi int64) (int64, error) {
	return hi - lo + 1, nil
}

func (db saturatedDB) Existing(ctx context.Context, class numbers.Class, candidates []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{}, len(candidates))
	for _, c := range candidates {
		out[c] = struct{}{}
	}
	return out, nil
}

func TestAllocate_SaturatedRange(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	alloc := numbers.NewAllocator(zaptest.NewLogger(t), saturatedDB{newFakeDB()}, numbers.Config{})
	_, err := alloc.Allocate(ctx, numbers.ClassPart)
	require.Error(t, err)
	require.True(t, numbers.ErrExhausted.Has(err))
}

func TestAllocate_SequentialWorkCenters(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	alloc := numbers.NewAllocator(zaptest.NewLogger(t), db, numbers.Config{})
	r := alloc.RangeFor(numbers.ClassWorkCenter)

	n, err := alloc.Allocate(ctx, numbers.ClassWorkCenter)
	require.NoError(t, err)
	require.Equal(t, r.Lo, n)
	db.take(numbers.ClassWorkCenter, n)

	n, err = alloc.Allocate(ctx, numbers.ClassWorkCenter)
	require.NoError(t, err)
	require.Equal(t, r.Lo+1, n)

	db.take(numbers.ClassWorkCenter, r.Hi)
	_, err = alloc.Allocate(ctx, numbers.ClassWorkCenter)
	require.True(t, numbers.ErrExhausted.Has(err))
}

func TestAllocate_QuoteHighRange(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	alloc := numbers.NewAllocator(zaptest.NewLogger(t), newFakeDB(), numbers.Config{QuoteHighRange: true})

	n, err := alloc.Allocate(ctx, numbers.ClassQuote)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, int64(85000000))
	require.LessOrEqual(t, n, int64(85999999))
}
