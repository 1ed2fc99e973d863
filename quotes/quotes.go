// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package quotes implements the quote lifecycle: the workflow state machine,
// auto-pricing from frozen pricing sets, snapshot freezing and totals
// invariants.
package quotes

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"gestima.io/gestima/gestima"
)

var (
	// Error is the default quotes errs class.
	Error = errs.Class("quotes")
	// ErrEditLocked means the quote is not in draft and refuses mutation.
	ErrEditLocked = errs.Class("quote edit locked")
	// ErrInvalidTransition means the requested status change is not allowed.
	ErrInvalidTransition = errs.Class("invalid quote transition")
	// ErrNoFrozenPricing means the part has no frozen batch set to price from.
	ErrNoFrozenPricing = errs.Class("no frozen pricing")
	// ErrInvariant means recomputed totals disagree with stored values.
	ErrInvariant = errs.Class("quote totals invariant")
	// ErrDeleteProtected means the quote holds a legally binding snapshot and
	// cannot be deleted.
	ErrDeleteProtected = errs.Class("quote delete protected")
)

// Quote is a priced offer to a partner.
type Quote struct {
	ID          int64
	QuoteNumber int64
	PartnerID   int64
	Title       string
	Status      gestima.QuoteStatus

	DiscountPercent float64
	TaxPercent      float64

	Subtotal       float64
	DiscountAmount float64
	TaxAmount      float64
	Total          float64

	// SnapshotData is written on send and never recomputed afterwards.
	SnapshotData []byte

	SentAt     *time.Time
	ApprovedAt *time.Time
	RejectedAt *time.Time

	Notes string

	gestima.Meta
}

// Item is a line item owned by a quote. Part identifiers are denormalized so
// the line stays readable after part changes.
type Item struct {
	ID      int64
	QuoteID int64
	PartID  int64

	PartNumber int64
	PartName   string

	Quantity  float64
	UnitPrice float64
	LineTotal float64
	Notes     string

	gestima.Meta
}

// Totals is the recomputed money summary of a quote.
type Totals struct {
	Subtotal       float64
	DiscountAmount float64
	TaxAmount      float64
	Total          float64
}

// Snapshot is the JSON document persisted when a quote is sent. It
// decouples the historical record from ongoing price changes.
type Snapshot struct {
	QuoteNumber int64           `json:"quote_number"`
	Title       string          `json:"title"`
	Status      string          `json:"status"`
	Partner     SnapshotPartner `json:"partner"`
	Items       []SnapshotItem  `json:"items"`
	Totals      Totals          `json:"totals"`
	IssuedBy    string          `json:"issued_by"`
	IssuedAt    time.Time       `json:"issued_at"`
}

// SnapshotPartner is the denormalized partner copy inside a snapshot.
type SnapshotPartner struct {
	PartnerNumber int64  `json:"partner_number"`
	Name          string `json:"name"`
	ICO           string `json:"ico"`
	DIC           string `json:"dic"`
}

// SnapshotItem is one denormalized line inside a snapshot.
type SnapshotItem struct {
	PartNumber int64   `json:"part_number"`
	PartName   string  `json:"part_name"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	LineTotal  float64 `json:"line_total"`
	Notes      string  `json:"notes,omitempty"`
}

// DB is the quote storage interface. Mutations that touch items also persist
// the recomputed totals in the same transaction.
type DB interface {
	Create(ctx context.Context, quote Quote) (Quote, error)
	Get(ctx context.Context, id int64) (Quote, error)
	List(ctx context.Context) ([]Quote, error)

	Items(ctx context.Context, quoteID int64) ([]Item, error)
	GetItem(ctx context.Context, itemID int64) (Item, error)

	AddItem(ctx context.Context, item Item, totals Totals) (Item, error)
	UpdateItem(ctx context.Context, item Item, totals Totals) (Item, error)
	RemoveItem(ctx context.Context, itemID int64, by string, totals Totals) error

	// UpdateHeader applies an optimistic-locked header update together with
	// the recomputed totals.
	UpdateHeader(ctx context.Context, quote Quote, totals Totals) (Quote, error)

	// SetStatus transitions the workflow status, optionally persisting a
	// snapshot and stamping the matching terminal timestamp.
	SetStatus(ctx context.Context, id int64, status gestima.QuoteStatus, snapshot []byte, by string, at time.Time, version int64) (Quote, error)

	SoftDelete(ctx context.Context, id int64, by string, version int64) error
}

// ComputeTotals recomputes the money summary from active items.
func ComputeTotals(items []Item, discountPercent, taxPercent float64) Totals {
	var totals Totals
	for _, item := range items {
		if item.Deleted() {
			continue
		}
		totals.Subtotal += item.LineTotal
	}
	totals.DiscountAmount = totals.Subtotal * discountPercent / 100
	taxable := totals.Subtotal - totals.DiscountAmount
	totals.TaxAmount = taxable * taxPercent / 100
	totals.Total = taxable + totals.TaxAmount
	return totals
}

// VerifyTotals checks every totals invariant within the money tolerance.
func VerifyTotals(items []Item, quote Quote, totals Totals) error {
	for _, item := range items {
		if item.Deleted() {
			continue
		}
		if diff := item.LineTotal - item.Quantity*item.UnitPrice; abs(diff) > gestima.MoneyTolerance {
			return ErrInvariant.New("item %d line total %v != %v * %v",
				item.ID, item.LineTotal, item.Quantity, item.UnitPrice)
		}
	}

	recomputed := ComputeTotals(items, quote.DiscountPercent, quote.TaxPercent)
	if abs(recomputed.Subtotal-totals.Subtotal) > gestima.MoneyTolerance ||
		abs(recomputed.DiscountAmount-totals.DiscountAmount) > gestima.MoneyTolerance ||
		abs(recomputed.TaxAmount-totals.TaxAmount) > gestima.MoneyTolerance ||
		abs(recomputed.Total-totals.Total) > gestima.MoneyTolerance {
		return ErrInvariant.New("quote %d totals mismatch: stored %+v recomputed %+v",
			quote.ID, totals, recomputed)
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
