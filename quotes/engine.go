// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package quotes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"gestima.io/gestima/batches"
	"gestima.io/gestima/gestima"
	"gestima.io/gestima/numbers"
	"gestima.io/gestima/partners"
	"gestima.io/gestima/parts"
)

var mon = monkit.Package()

// Engine drives the quote workflow.
type Engine struct {
	log      *zap.Logger
	db       DB
	parts    parts.DB
	partners partners.DB
	batches  batches.DB
	alloc    *numbers.Allocator

	nowFn func() time.Time
}

// NewEngine creates a quote engine.
func NewEngine(log *zap.Logger, db DB, partsDB parts.DB, partnersDB partners.DB, batchesDB batches.DB, alloc *numbers.Allocator) *Engine {
	return &Engine{
		log:      log,
		db:       db,
		parts:    partsDB,
		partners: partnersDB,
		batches:  batchesDB,
		alloc:    alloc,
		nowFn:    time.Now,
	}
}

// TestingSetNow overrides the clock.
func (engine *Engine) TestingSetNow(nowFn func() time.Time) { engine.nowFn = nowFn }

// CreateDraft creates a new draft quote for a partner.
func (engine *Engine) CreateDraft(ctx context.Context, partnerID int64, title string, discountPercent, taxPercent float64, by string) (_ Quote, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := engine.partners.Get(ctx, partnerID); err != nil {
		return Quote{}, Error.Wrap(err)
	}

	number, err := engine.alloc.Allocate(ctx, numbers.ClassQuote)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}

	quote, err := engine.db.Create(ctx, Quote{
		QuoteNumber:     number,
		PartnerID:       partnerID,
		Title:           title,
		Status:          gestima.QuoteDraft,
		DiscountPercent: discountPercent,
		TaxPercent:      taxPercent,
		Meta:            gestima.Meta{CreatedBy: by},
	})
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}

	engine.log.Info("quote created",
		zap.Int64("quote_number", quote.QuoteNumber), zap.String("by", by))
	return quote, nil
}

// AddItem adds a line item priced from the part's most recent frozen batch
// set. Item creation is refused when no frozen pricing exists.
func (engine *Engine) AddItem(ctx context.Context, quoteID, partID int64, quantity float64, notes, by string) (_ Item, err error) {
	defer mon.Task()(&ctx)(&err)

	quote, err := engine.editable(ctx, quoteID)
	if err != nil {
		return Item{}, err
	}

	part, err := engine.parts.Get(ctx, partID)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}

	unitPrice, err := engine.unitPriceFor(ctx, part)
	if err != nil {
		return Item{}, err
	}

	item := Item{
		QuoteID:    quoteID,
		PartID:     partID,
		PartNumber: part.PartNumber,
		PartName:   part.Name,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		LineTotal:  quantity * unitPrice,
		Notes:      notes,
		Meta:       gestima.Meta{CreatedBy: by},
	}

	items, err := engine.db.Items(ctx, quoteID)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}
	totals := ComputeTotals(append(items, item), quote.DiscountPercent, quote.TaxPercent)
	if err := VerifyTotals(append(items, item), quote, totals); err != nil {
		return Item{}, err
	}

	created, err := engine.db.AddItem(ctx, item, totals)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}

	engine.log.Info("quote item added",
		zap.Int64("quote_number", quote.QuoteNumber),
		zap.Int64("part_number", part.PartNumber),
		zap.String("by", by))
	return created, nil
}

// UpdateItem changes quantity, price or notes of a line and recomputes totals.
func (engine *Engine) UpdateItem(ctx context.Context, item Item, by string) (_ Item, err error) {
	defer mon.Task()(&ctx)(&err)

	quote, err := engine.editable(ctx, item.QuoteID)
	if err != nil {
		return Item{}, err
	}

	item.LineTotal = item.Quantity * item.UnitPrice
	item.UpdatedBy = by

	items, err := engine.db.Items(ctx, item.QuoteID)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
		}
	}
	totals := ComputeTotals(items, quote.DiscountPercent, quote.TaxPercent)
	if err := VerifyTotals(items, quote, totals); err != nil {
		return Item{}, err
	}

	updated, err := engine.db.UpdateItem(ctx, item, totals)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}
	return updated, nil
}

// RemoveItem tombstones a line and recomputes totals.
func (engine *Engine) RemoveItem(ctx context.Context, quoteID, itemID int64, by string) (err error) {
	defer mon.Task()(&ctx)(&err)

	quote, err := engine.editable(ctx, quoteID)
	if err != nil {
		return err
	}

	items, err := engine.db.Items(ctx, quoteID)
	if err != nil {
		return Error.Wrap(err)
	}
	remaining := items[:0]
	for _, existing := range items {
		if existing.ID != itemID {
			remaining = append(remaining, existing)
		}
	}
	totals := ComputeTotals(remaining, quote.DiscountPercent, quote.TaxPercent)
	if err := VerifyTotals(remaining, quote, totals); err != nil {
		return err
	}

	return Error.Wrap(engine.db.RemoveItem(ctx, itemID, by, totals))
}

// UpdateHeader changes header fields of a draft quote and recomputes totals.
func (engine *Engine) UpdateHeader(ctx context.Context, quote Quote, by string) (_ Quote, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := engine.editable(ctx, quote.ID); err != nil {
		return Quote{}, err
	}
	quote.UpdatedBy = by

	items, err := engine.db.Items(ctx, quote.ID)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}
	totals := ComputeTotals(items, quote.DiscountPercent, quote.TaxPercent)
	if err := VerifyTotals(items, quote, totals); err != nil {
		return Quote{}, err
	}

	updated, err := engine.db.UpdateHeader(ctx, quote, totals)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}
	return updated, nil
}

// Send transitions draft -> sent and persists the legally binding snapshot.
func (engine *Engine) Send(ctx context.Context, quoteID int64, by string) (_ Quote, err error) {
	defer mon.Task()(&ctx)(&err)

	quote, err := engine.db.Get(ctx, quoteID)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}
	if quote.Status != gestima.QuoteDraft {
		return Quote{}, ErrInvalidTransition.New("cannot send quote in status %q", quote.Status)
	}

	snapshot, err := engine.buildSnapshot(ctx, quote, by)
	if err != nil {
		return Quote{}, err
	}

	sent, err := engine.db.SetStatus(ctx, quoteID, gestima.QuoteSent, snapshot, by, engine.nowFn().UTC(), quote.Version)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}

	engine.log.Info("quote sent",
		zap.Int64("quote_number", quote.QuoteNumber), zap.String("by", by))
	return sent, nil
}

// Approve transitions sent -> approved.
func (engine *Engine) Approve(ctx context.Context, quoteID int64, by string) (Quote, error) {
	return engine.finalize(ctx, quoteID, gestima.QuoteApproved, by)
}

// Reject transitions sent -> rejected.
func (engine *Engine) Reject(ctx context.Context, quoteID int64, by string) (Quote, error) {
	return engine.finalize(ctx, quoteID, gestima.QuoteRejected, by)
}

func (engine *Engine) finalize(ctx context.Context, quoteID int64, status gestima.QuoteStatus, by string) (_ Quote, err error) {
	defer mon.Task()(&ctx)(&err)

	quote, err := engine.db.Get(ctx, quoteID)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}
	if quote.Status != gestima.QuoteSent {
		return Quote{}, ErrInvalidTransition.New("cannot move quote from %q to %q", quote.Status, status)
	}

	updated, err := engine.db.SetStatus(ctx, quoteID, status, nil, by, engine.nowFn().UTC(), quote.Version)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}

	engine.log.Info("quote finalized",
		zap.Int64("quote_number", quote.QuoteNumber),
		zap.String("status", string(status)),
		zap.String("by", by))
	return updated, nil
}

// Delete tombstones a quote. Sent and approved quotes hold a legally binding
// snapshot and are protected.
func (engine *Engine) Delete(ctx context.Context, quoteID int64, by string) (err error) {
	defer mon.Task()(&ctx)(&err)

	quote, err := engine.db.Get(ctx, quoteID)
	if err != nil {
		return Error.Wrap(err)
	}

	switch quote.Status {
	case gestima.QuoteDraft, gestima.QuoteRejected:
	default:
		return ErrDeleteProtected.New(
			"quote %d in status %q holds a legally binding snapshot and cannot be deleted",
			quote.QuoteNumber, quote.Status)
	}

	if err := engine.db.SoftDelete(ctx, quoteID, by, quote.Version); err != nil {
		return Error.Wrap(err)
	}

	engine.log.Info("quote deleted",
		zap.Int64("quote_number", quote.QuoteNumber), zap.String("by", by))
	return nil
}

// Clone duplicates a quote of any status into a fresh draft with a new
// number, items copied without ids, and totals recomputed.
func (engine *Engine) Clone(ctx context.Context, quoteID int64, by string) (_ Quote, err error) {
	defer mon.Task()(&ctx)(&err)

	source, err := engine.db.Get(ctx, quoteID)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}
	items, err := engine.db.Items(ctx, quoteID)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}

	number, err := engine.alloc.Allocate(ctx, numbers.ClassQuote)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}

	clone, err := engine.db.Create(ctx, Quote{
		QuoteNumber:     number,
		PartnerID:       source.PartnerID,
		Title:           source.Title + " (Copy)",
		Status:          gestima.QuoteDraft,
		DiscountPercent: source.DiscountPercent,
		TaxPercent:      source.TaxPercent,
		Notes:           source.Notes,
		Meta:            gestima.Meta{CreatedBy: by},
	})
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}

	copied := make([]Item, 0, len(items))
	for _, item := range items {
		dup := item
		dup.ID = 0
		dup.QuoteID = clone.ID
		dup.Meta = gestima.Meta{CreatedBy: by}
		copied = append(copied, dup)
	}

	for i, item := range copied {
		totals := ComputeTotals(copied[:i+1], clone.DiscountPercent, clone.TaxPercent)
		if _, err := engine.db.AddItem(ctx, item, totals); err != nil {
			return Quote{}, Error.Wrap(err)
		}
	}

	engine.log.Info("quote cloned",
		zap.Int64("source_number", source.QuoteNumber),
		zap.Int64("clone_number", clone.QuoteNumber),
		zap.String("by", by))
	return engine.db.Get(ctx, clone.ID)
}

// editable loads the quote and refuses mutation outside draft.
func (engine *Engine) editable(ctx context.Context, quoteID int64) (Quote, error) {
	quote, err := engine.db.Get(ctx, quoteID)
	if err != nil {
		return Quote{}, Error.Wrap(err)
	}
	if quote.Status != gestima.QuoteDraft {
		return Quote{}, ErrEditLocked.New("quote %d is %q", quote.QuoteNumber, quote.Status)
	}
	return quote, nil
}

// unitPriceFor resolves the unit price from the part's most recent frozen
// batch set.
func (engine *Engine) unitPriceFor(ctx context.Context, part parts.Part) (float64, error) {
	set, found, err := engine.batches.LatestFrozenSet(ctx, part.ID)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if !found {
		return 0, ErrNoFrozenPricing.New("part %d has no frozen batch set; freeze a batch first", part.PartNumber)
	}

	members, err := engine.batches.ListBySet(ctx, set.ID)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if len(members) == 0 {
		return 0, ErrNoFrozenPricing.New("frozen set %d of part %d has no batches", set.SetNumber, part.PartNumber)
	}

	batch := members[0]
	if batch.UnitPriceFrozen != nil {
		return *batch.UnitPriceFrozen, nil
	}
	return batch.UnitCost, nil
}

func (engine *Engine) buildSnapshot(ctx context.Context, quote Quote, by string) ([]byte, error) {
	partner, err := engine.partners.Get(ctx, quote.PartnerID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	items, err := engine.db.Items(ctx, quote.ID)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	snapshot := Snapshot{
		QuoteNumber: quote.QuoteNumber,
		Title:       quote.Title,
		Status:      string(gestima.QuoteSent),
		Partner: SnapshotPartner{
			PartnerNumber: partner.PartnerNumber,
			Name:          partner.Name,
			ICO:           partner.ICO,
			DIC:           partner.DIC,
		},
		Totals: Totals{
			Subtotal:       quote.Subtotal,
			DiscountAmount: quote.DiscountAmount,
			TaxAmount:      quote.TaxAmount,
			Total:          quote.Total,
		},
		IssuedBy: by,
		IssuedAt: engine.nowFn().UTC(),
	}
	for _, item := range items {
		snapshot.Items = append(snapshot.Items, SnapshotItem{
			PartNumber: item.PartNumber,
			PartName:   item.PartName,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
			Notes:      item.Notes,
		})
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}
