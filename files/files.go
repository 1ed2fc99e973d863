// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package files implements the deduplicating content store: a disk blob tree
// under uploads/ plus the FileRecord and polymorphic FileLink registry.
package files

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"gestima.io/gestima/gestima"
)

var (
	// Error is the default filestore errs class.
	Error = errs.Class("filestore")
	// ErrInvalidFilename means the filename is empty or unsafe.
	ErrInvalidFilename = errs.Class("invalid filename")
	// ErrUnsupportedType means the extension maps to no known file type.
	ErrUnsupportedType = errs.Class("unsupported file type")
	// ErrMagicBytes means the content does not match the declared type.
	ErrMagicBytes = errs.Class("magic bytes mismatch")
	// ErrTooLarge means the upload exceeds the per-type size cap.
	ErrTooLarge = errs.Class("file too large")
	// ErrEmpty means the upload has no content.
	ErrEmpty = errs.Class("empty file")
	// ErrNotFound means the file record does not exist or is tombstoned.
	ErrNotFound = errs.Class("file not found")
	// ErrMissing means the record exists but the blob is gone from disk.
	ErrMissing = errs.Class("file missing on disk")
	// ErrLinkNotFound means the requested link does not exist.
	ErrLinkNotFound = errs.Class("file link not found")
)

// Record is the registry entry of a stored blob. The hash is deliberately
// not unique: duplicate content may live under different paths.
type Record struct {
	ID           int64
	Hash         string
	Path         string
	OriginalName string
	Size         int64
	Type         string
	Mime         string
	Status       gestima.FileStatus

	gestima.Meta
}

// Link attaches a file to an entity. Unique on (file_id, entity_type,
// entity_id) among live rows.
type Link struct {
	ID         int64
	FileID     int64
	EntityType gestima.EntityType
	EntityID   int64
	IsPrimary  bool
	Revision   string
	LinkType   gestima.LinkType

	gestima.Meta
}

// Entry pairs a record with the link that attaches it to an entity.
type Entry struct {
	Record Record
	Link   Link
}

// DB is the file registry storage interface.
type DB interface {
	CreateRecord(ctx context.Context, record Record) (Record, error)
	GetRecord(ctx context.Context, id int64) (Record, error)
	RecordsByHash(ctx context.Context, hash string) ([]Record, error)
	PathExists(ctx context.Context, path string) (bool, error)

	// UpsertLink creates or revives the link; when the link is primary it
	// atomically demotes every other live link of the same
	// (entity_type, entity_id, link_type).
	UpsertLink(ctx context.Context, link Link) (Link, error)
	SoftDeleteLink(ctx context.Context, fileID int64, entityType gestima.EntityType, entityID int64, by string) error

	ForEntity(ctx context.Context, entityType gestima.EntityType, entityID int64, linkType gestima.LinkType) ([]Entry, error)
	Primary(ctx context.Context, entityType gestima.EntityType, entityID int64, linkType gestima.LinkType) (Entry, bool, error)

	// Orphans lists non-temp records with no live link.
	Orphans(ctx context.Context) ([]Record, error)
	// TempOlderThan lists temp records created before the cutoff.
	TempOlderThan(ctx context.Context, cutoff time.Time) ([]Record, error)
	SoftDeleteRecord(ctx context.Context, id int64, by string) error

	// EntitiesWithPrimary reports which of the entities already have a live
	// link of the given type.
	EntitiesWithPrimary(ctx context.Context, entityType gestima.EntityType, entityIDs []int64, linkType gestima.LinkType) (map[int64]bool, error)
	// EntitiesLinkedToHash lists entity ids of the given type linked to any
	// live record with the hash.
	EntitiesLinkedToHash(ctx context.Context, hash string, entityType gestima.EntityType) ([]int64, error)
}
