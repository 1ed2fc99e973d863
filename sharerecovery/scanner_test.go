// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package sharerecovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gestima.io/gestima/files"
	"gestima.io/gestima/gestima"
	"gestima.io/gestima/parts"
	"gestima.io/gestima/private/testcontext"
)

func testParts() []parts.Part {
	return []parts.Part{
		{ID: 1, PartNumber: 10000001, ArticleNumber: "35126"},
		{ID: 2, PartNumber: 10000002, ArticleNumber: "99.001"},
		{ID: 3, PartNumber: 10000003, ArticleNumber: "99.001.77854"},
	}
}

func TestMatchFolder(t *testing.T) {
	active := testParts()

	part, ok := matchFolder("35126_Holder", active)
	require.True(t, ok)
	require.Equal(t, int64(1), part.ID)

	// part number works as well as the article
	part, ok = matchFolder("10000002 drawings", active)
	require.True(t, ok)
	require.Equal(t, int64(2), part.ID)

	// the longest matching key wins
	part, ok = matchFolder("99.001.77854_Koppelplatte", active)
	require.True(t, ok)
	require.Equal(t, int64(3), part.ID)

	// the article must be bounded, not merely a prefix of a longer run
	_, ok = matchFolder("351269", active)
	require.False(t, ok)

	_, ok = matchFolder("unrelated", active)
	require.False(t, ok)
}

// stubPartsDB serves a fixed active list.
type stubPartsDB struct {
	parts.DB
	active []parts.Part
}

func (db stubPartsDB) ListActive(ctx context.Context) ([]parts.Part, error) {
	return db.active, nil
}

// stubFilesDB marks given parts as already having a primary drawing.
type stubFilesDB struct {
	files.DB
	withDrawing map[int64]bool
}

func (db stubFilesDB) EntitiesWithPrimary(ctx context.Context, entityType gestima.EntityType, entityIDs []int64, linkType gestima.LinkType) (map[int64]bool, error) {
	return db.withDrawing, nil
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0644))
}

func TestScanner_DryRun(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	root := ctx.Dir("share")
	writeFile(t, filepath.Join(root, "35126_Holder", "35126_rev2.pdf"))
	writeFile(t, filepath.Join(root, "35126_Holder", "notes.txt"))
	writeFile(t, filepath.Join(root, "99.001 bracket", "bracket.pdf"))
	writeFile(t, filepath.Join(root, "99.001.77854_Koppelplatte", "unrelated-scan.pdf"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no-match-here"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "10000001-duplicate"), 0755))

	scanner := NewScanner(zaptest.NewLogger(t), Config{Root: root, DryRun: true},
		stubPartsDB{active: testParts()},
		stubFilesDB{withDrawing: map[int64]bool{2: true}},
		nil, "alice")

	report, err := scanner.Scan(ctx)
	require.NoError(t, err)

	require.Equal(t, 5, report.Folders)
	require.Equal(t, 4, report.Matched)
	// part 2 already has a drawing
	require.Equal(t, 1, report.Skipped)
	// dry run never stores
	require.Equal(t, 0, report.Stored)

	// folder without a match and folder without a pdf both warn
	require.Len(t, report.Warnings, 2)

	// 35126 prefers the pdf containing the article over other files
	var action Action
	for _, a := range report.Actions {
		if a.PartID == 1 && a.Folder == "35126_Holder" {
			action = a
		}
	}
	require.Equal(t, "35126_rev2.pdf", action.File)
	require.False(t, action.Stored)
}
