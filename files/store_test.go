// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package files_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gestima.io/gestima/files"
	"gestima.io/gestima/gestima"
	"gestima.io/gestima/private/testcontext"
	"gestima.io/gestima/private/testrand"
)

// memFilesDB is an in-memory files.DB.
type memFilesDB struct {
	nextID  int64
	records map[int64]files.Record
	links   map[int64]files.Link
}

func newMemFilesDB() *memFilesDB {
	return &memFilesDB{
		records: map[int64]files.Record{},
		links:   map[int64]files.Link{},
	}
}

func (db *memFilesDB) CreateRecord(ctx context.Context, record files.Record) (files.Record, error) {
	db.nextID++
	record.ID = db.nextID
	record.Version = 1
	db.records[record.ID] = record
	return record, nil
}

func (db *memFilesDB) GetRecord(ctx context.Context, id int64) (files.Record, error) {
	record, ok := db.records[id]
	if !ok || record.Deleted() {
		return files.Record{}, files.ErrNotFound.New("file %d", id)
	}
	return record, nil
}

func (db *memFilesDB) RecordsByHash(ctx context.Context, hash string) ([]files.Record, error) {
	var out []files.Record
	for _, record := range db.records {
		if record.Hash == hash && !record.Deleted() {
			out = append(out, record)
		}
	}
	return out, nil
}

func (db *memFilesDB) PathExists(ctx context.Context, path string) (bool, error) {
	for _, record := range db.records {
		if record.Path == path {
			return true, nil
		}
	}
	return false, nil
}

func (db *memFilesDB) UpsertLink(ctx context.Context, link files.Link) (files.Link, error) {
	if link.IsPrimary {
		for id, other := range db.links {
			if other.EntityType == link.EntityType && other.EntityID == link.EntityID &&
				other.LinkType == link.LinkType && !other.Deleted() {
				other.IsPrimary = false
				db.links[id] = other
			}
		}
	}
	for id, other := range db.links {
		if other.FileID == link.FileID && other.EntityType == link.EntityType &&
			other.EntityID == link.EntityID {
			link.ID = id
			link.DeletedAt = nil
			link.DeletedBy = ""
			db.links[id] = link
			return link, nil
		}
	}
	db.nextID++
	link.ID = db.nextID
	db.links[link.ID] = link
	return link, nil
}

func (db *memFilesDB) SoftDeleteLink(ctx context.Context, fileID int64, entityType gestima.EntityType, entityID int64, by string) error {
	for id, link := range db.links {
		if link.FileID == fileID && link.EntityType == entityType &&
			link.EntityID == entityID && !link.Deleted() {
			now := time.Now()
			link.DeletedAt = &now
			link.DeletedBy = by
			db.links[id] = link
			return nil
		}
	}
	return files.ErrLinkNotFound.New("file %d on %s %d", fileID, entityType, entityID)
}

func (db *memFilesDB) ForEntity(ctx context.Context, entityType gestima.EntityType, entityID int64, linkType gestima.LinkType) ([]files.Entry, error) {
	var out []files.Entry
	for _, link := range db.links {
		if link.EntityType != entityType || link.EntityID != entityID || link.Deleted() {
			continue
		}
		if linkType != "" && link.LinkType != linkType {
			continue
		}
		record, ok := db.records[link.FileID]
		if !ok || record.Deleted() {
			continue
		}
		out = append(out, files.Entry{Record: record, Link: link})
	}
	return out, nil
}

func (db *memFilesDB) Primary(ctx context.Context, entityType gestima.EntityType, entityID int64, linkType gestima.LinkType) (files.Entry, bool, error) {
	entries, err := db.ForEntity(ctx, entityType, entityID, linkType)
	if err != nil {
		return files.Entry{}, false, err
	}
	for _, entry := range entries {
		if entry.Link.IsPrimary {
			return entry, true, nil
		}
	}
	return files.Entry{}, false, nil
}

func (db *memFilesDB) Orphans(ctx context.Context) ([]files.Record, error) {
	linked := map[int64]bool{}
	for _, link := range db.links {
		if !link.Deleted() {
			linked[link.FileID] = true
		}
	}
	var out []files.Record
	for _, record := range db.records {
		if record.Status != gestima.FileTemp && !record.Deleted() && !linked[record.ID] {
			out = append(out, record)
		}
	}
	return out, nil
}

func (db *memFilesDB) TempOlderThan(ctx context.Context, cutoff time.Time) ([]files.Record, error) {
	var out []files.Record
	for _, record := range db.records {
		if record.Status == gestima.FileTemp && !record.Deleted() && record.CreatedAt.Before(cutoff) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (db *memFilesDB) SoftDeleteRecord(ctx context.Context, id int64, by string) error {
	record, ok := db.records[id]
	if !ok {
		return files.ErrNotFound.New("file %d", id)
	}
	now := time.Now()
	record.DeletedAt = &now
	record.DeletedBy = by
	db.records[id] = record
	return nil
}

func (db *memFilesDB) EntitiesWithPrimary(ctx context.Context, entityType gestima.EntityType, entityIDs []int64, linkType gestima.LinkType) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, link := range db.links {
		if link.EntityType == entityType && link.LinkType == linkType &&
			link.IsPrimary && !link.Deleted() {
			out[link.EntityID] = true
		}
	}
	for id := range out {
		found := false
		for _, want := range entityIDs {
			if want == id {
				found = true
			}
		}
		if !found {
			delete(out, id)
		}
	}
	return out, nil
}

func (db *memFilesDB) EntitiesLinkedToHash(ctx context.Context, hash string, entityType gestima.EntityType) ([]int64, error) {
	var out []int64
	for _, link := range db.links {
		if link.EntityType != entityType || link.Deleted() {
			continue
		}
		record, ok := db.records[link.FileID]
		if ok && !record.Deleted() && record.Hash == hash {
			out = append(out, link.EntityID)
		}
	}
	return out, nil
}

func newTestStore(t *testing.T, ctx *testcontext.Context) (*files.Store, *memFilesDB, string) {
	db := newMemFilesDB()
	root := ctx.Dir("uploads")
	store := files.NewStore(zaptest.NewLogger(t), db, files.Config{
		Root:       root,
		TempExpiry: 24 * time.Hour,
	})
	return store, db, root
}

const pdfContent = "%PDF-1.4 test drawing content"

func TestStore_StorePDF(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, root := newTestStore(t, ctx)

	record, err := store.Store(ctx, "drawing.pdf", strings.NewReader(pdfContent),
		"parts/7", []string{files.TypePDF}, "alice")
	require.NoError(t, err)
	require.Equal(t, "pdf", record.Type)
	require.Equal(t, "application/pdf", record.Mime)
	require.Equal(t, int64(len(pdfContent)), record.Size)
	require.Equal(t, gestima.FileActive, record.Status)
	require.NotEmpty(t, record.Hash)

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(record.Path)))
	require.NoError(t, err)
	require.Equal(t, pdfContent, string(data))
}

func TestStore_RejectsBadUploads(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _ := newTestStore(t, ctx)

	_, err := store.Store(ctx, "../evil.pdf", strings.NewReader(pdfContent), "parts/7", nil, "alice")
	require.True(t, files.ErrInvalidFilename.Has(err))

	_, err = store.Store(ctx, "note.txt", strings.NewReader("hi"), "parts/7", nil, "alice")
	require.True(t, files.ErrUnsupportedType.Has(err))

	_, err = store.Store(ctx, "model.step", strings.NewReader("data"), "parts/7",
		[]string{files.TypePDF}, "alice")
	require.True(t, files.ErrUnsupportedType.Has(err))

	_, err = store.Store(ctx, "empty.pdf", strings.NewReader(""), "parts/7", nil, "alice")
	require.True(t, files.ErrEmpty.Has(err))
}

func TestStore_MagicMismatch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, root := newTestStore(t, ctx)

	_, err := store.Store(ctx, "fake.pdf", strings.NewReader("MZ not a pdf"), "parts/7", nil, "alice")
	require.True(t, files.ErrMagicBytes.Has(err))

	// the rejected blob must not survive on disk
	_, err = os.Stat(filepath.Join(root, "parts", "7", "fake.pdf"))
	require.True(t, os.IsNotExist(err))
}

func TestStore_DuplicateContentKeepsBothPaths(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db, _ := newTestStore(t, ctx)

	first, err := store.Store(ctx, "drawing.pdf", strings.NewReader(pdfContent), "parts/7", nil, "alice")
	require.NoError(t, err)
	second, err := store.Store(ctx, "drawing.pdf", strings.NewReader(pdfContent), "parts/7", nil, "alice")
	require.NoError(t, err)

	require.Equal(t, first.Hash, second.Hash)
	require.NotEqual(t, first.Path, second.Path)

	records, err := db.RecordsByHash(ctx, first.Hash)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestStore_PrimaryArbitration(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db, _ := newTestStore(t, ctx)

	first, err := store.Store(ctx, "rev-a.pdf", strings.NewReader(pdfContent), "parts/7", nil, "alice")
	require.NoError(t, err)
	second, err := store.Store(ctx, "rev-b.pdf", strings.NewReader(pdfContent+"b"), "parts/7", nil, "alice")
	require.NoError(t, err)

	_, err = store.Link(ctx, first.ID, gestima.EntityPart, 7, true, "A", gestima.LinkDrawing, "alice")
	require.NoError(t, err)
	_, err = store.Link(ctx, second.ID, gestima.EntityPart, 7, true, "B", gestima.LinkDrawing, "alice")
	require.NoError(t, err)

	primary, found, err := db.Primary(ctx, gestima.EntityPart, 7, gestima.LinkDrawing)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, second.ID, primary.Record.ID)

	entries, err := store.ForEntity(ctx, gestima.EntityPart, 7, gestima.LinkDrawing)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// unlinking the primary does not auto-promote the survivor
	require.NoError(t, store.Unlink(ctx, second.ID, gestima.EntityPart, 7, "alice"))
	_, found, err = db.Primary(ctx, gestima.EntityPart, 7, gestima.LinkDrawing)
	require.NoError(t, err)
	require.False(t, found)
}

func TestStore_CleanupTemp(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db, root := newTestStore(t, ctx)

	record, err := store.Store(ctx, "upload.pdf", strings.NewReader(pdfContent),
		files.TempDirectory, nil, "alice")
	require.NoError(t, err)
	require.Equal(t, gestima.FileTemp, record.Status)

	// age the record past the expiry
	aged := db.records[record.ID]
	aged.CreatedAt = time.Now().Add(-48 * time.Hour)
	db.records[record.ID] = aged

	collected, err := store.CleanupTemp(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, collected)

	_, _, err = store.Serve(ctx, record.ID)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(record.Path)))
	require.True(t, os.IsNotExist(statErr))
}

func TestStore_SizeCap(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _ := newTestStore(t, ctx)

	huge := append([]byte("%PDF"), testrand.BytesN(10<<20)...)
	_, err := store.Store(ctx, "huge.pdf", bytes.NewReader(huge), "parts/7", nil, "alice")
	require.True(t, files.ErrTooLarge.Has(err))
}
