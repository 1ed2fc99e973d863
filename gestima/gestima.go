// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package gestima contains domain primitives shared across the backend.
package gestima

import (
	"time"

	"github.com/zeebo/errs"
)

var (
	// ErrNotFound means the requested entity does not exist or is
	// tombstoned.
	ErrNotFound = errs.Class("not found")
	// ErrVersionConflict means a versioned update lost the race; the caller
	// holds a stale version.
	ErrVersionConflict = errs.Class("version conflict")
)

// MoneyTolerance is the maximum absolute difference allowed when verifying
// monetary invariants. Prices are stored as float64; every recomputation is
// checked against this quantum before anything is persisted.
const MoneyTolerance = 0.01

// EntityType tags the owning side of a polymorphic file link. The set is
// open; the file store treats the tag as opaque.
type EntityType string

// Known entity type tags.
const (
	EntityPart       EntityType = "part"
	EntityQuoteItem  EntityType = "quote_item"
	EntityTimevision EntityType = "timevision"
)

// LinkType classifies what role a linked file plays for its entity.
type LinkType string

// Known link type tags.
const (
	LinkDrawing   LinkType = "drawing"
	LinkStepModel LinkType = "step_model"
	LinkNCProgram LinkType = "nc_program"
)

// QuoteStatus is the workflow status of a quote.
type QuoteStatus string

// Quote workflow statuses.
const (
	QuoteDraft    QuoteStatus = "draft"
	QuoteSent     QuoteStatus = "sent"
	QuoteApproved QuoteStatus = "approved"
	QuoteRejected QuoteStatus = "rejected"
)

// BatchSetStatus is the lifecycle status of a pricing snapshot group.
type BatchSetStatus string

// Batch set statuses.
const (
	BatchSetDraft  BatchSetStatus = "draft"
	BatchSetFrozen BatchSetStatus = "frozen"
)

// FileStatus is the lifecycle status of a stored blob record.
type FileStatus string

// File record statuses.
const (
	FileTemp     FileStatus = "temp"
	FileActive   FileStatus = "active"
	FileArchived FileStatus = "archived"
)

// Meta is the audit envelope carried by every mutable entity. Version
// increments on every successful write and backs optimistic concurrency.
type Meta struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
	UpdatedBy string
	DeletedAt *time.Time
	DeletedBy string
	Version   int64
}

// Deleted reports whether the entity carries a soft-delete tombstone.
func (m Meta) Deleted() bool { return m.DeletedAt != nil }
