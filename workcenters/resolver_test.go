// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package workcenters_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gestima.io/gestima/private/testcontext"
	"gestima.io/gestima/workcenters"
)

// countingDB serves work centers from memory and counts queries.
type countingDB struct {
	workcenters.DB
	byNumber map[int64]workcenters.WorkCenter
	queries  int
}

func (db *countingDB) GetByNumber(ctx context.Context, number int64) (workcenters.WorkCenter, bool, error) {
	db.queries++
	wc, ok := db.byNumber[number]
	return wc, ok, nil
}

func (db *countingDB) GetByNumbers(ctx context.Context, numbers []int64) (map[int64]workcenters.WorkCenter, error) {
	db.queries++
	out := map[int64]workcenters.WorkCenter{}
	for _, n := range numbers {
		if wc, ok := db.byNumber[n]; ok {
			out[n] = wc
		}
	}
	return out, nil
}

func testDB() *countingDB {
	return &countingDB{byNumber: map[int64]workcenters.WorkCenter{
		80000001: {ID: 11, Number: 80000001, Name: "lathe"},
		80000002: {ID: 12, Number: 80000002, Name: "mill"},
	}}
}

func testMapping() workcenters.Mapping {
	return workcenters.Mapping{
		"SOU1": 80000001,
		"FRE":  80000002,
	}
}

func TestResolver_ExactAndPrefix(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	resolver := workcenters.NewResolver(zaptest.NewLogger(t), testDB(), testMapping())

	id, warning, err := resolver.Resolve(ctx, "SOU1")
	require.NoError(t, err)
	require.Empty(t, warning)
	require.Equal(t, int64(11), id)

	// FRE05 resolves through the FRE prefix entry
	id, warning, err = resolver.Resolve(ctx, "FRE05")
	require.NoError(t, err)
	require.Empty(t, warning)
	require.Equal(t, int64(12), id)
}

func TestResolver_UnknownCodeWarns(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	resolver := workcenters.NewResolver(zaptest.NewLogger(t), testDB(), testMapping())

	id, warning, err := resolver.Resolve(ctx, "XYZ9")
	require.NoError(t, err)
	require.Zero(t, id)
	require.NotEmpty(t, warning)
}

func TestResolver_MappedButMissingWarns(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	mapping := testMapping()
	mapping["GONE"] = 80000099
	resolver := workcenters.NewResolver(zaptest.NewLogger(t), testDB(), mapping)

	id, warning, err := resolver.Resolve(ctx, "GONE")
	require.NoError(t, err)
	require.Zero(t, id)
	require.NotEmpty(t, warning)
}

func TestResolver_WarmupAvoidsQueries(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := testDB()
	resolver := workcenters.NewResolver(zaptest.NewLogger(t), db, testMapping())
	require.NoError(t, resolver.Warmup(ctx))
	require.Equal(t, 1, db.queries)

	for i := 0; i < 10; i++ {
		id, warning, err := resolver.Resolve(ctx, "SOU1")
		require.NoError(t, err)
		require.Empty(t, warning)
		require.Equal(t, int64(11), id)
	}
	require.Equal(t, 1, db.queries)
}

func TestLoadMapping(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := filepath.Join(ctx.Dir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte("SOU1: 80000001\nFRE: 80000002\n"), 0644))

	mapping, err := workcenters.LoadMapping(path)
	require.NoError(t, err)
	require.Equal(t, testMapping(), mapping)
}
