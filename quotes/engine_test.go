// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package quotes_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gestima.io/gestima/batches"
	"gestima.io/gestima/gestima"
	"gestima.io/gestima/numbers"
	"gestima.io/gestima/partners"
	"gestima.io/gestima/parts"
	"gestima.io/gestima/private/testcontext"
	"gestima.io/gestima/quotes"
)

func TestComputeTotals(t *testing.T) {
	items := []quotes.Item{
		{Quantity: 10, UnitPrice: 100, LineTotal: 1000},
		{Quantity: 1, UnitPrice: 100, LineTotal: 100},
	}
	totals := quotes.ComputeTotals(items, 10, 21)

	require.InDelta(t, 1100.0, totals.Subtotal, gestima.MoneyTolerance)
	require.InDelta(t, 110.0, totals.DiscountAmount, gestima.MoneyTolerance)
	require.InDelta(t, 207.9, totals.TaxAmount, gestima.MoneyTolerance)
	require.InDelta(t, 1197.9, totals.Total, gestima.MoneyTolerance)
}

func TestComputeTotals_SkipsDeleted(t *testing.T) {
	now := time.Now()
	items := []quotes.Item{
		{LineTotal: 1000},
		{LineTotal: 500, Meta: gestima.Meta{DeletedAt: &now}},
	}
	totals := quotes.ComputeTotals(items, 0, 0)
	require.InDelta(t, 1000.0, totals.Subtotal, gestima.MoneyTolerance)
}

func TestVerifyTotals(t *testing.T) {
	items := []quotes.Item{{ID: 1, Quantity: 2, UnitPrice: 50, LineTotal: 100}}
	quote := quotes.Quote{DiscountPercent: 0, TaxPercent: 21}
	totals := quotes.ComputeTotals(items, 0, 21)

	require.NoError(t, quotes.VerifyTotals(items, quote, totals))

	broken := totals
	broken.Total += 1
	err := quotes.VerifyTotals(items, quote, broken)
	require.True(t, quotes.ErrInvariant.Has(err))

	items[0].LineTotal = 150
	err = quotes.VerifyTotals(items, quote, totals)
	require.True(t, quotes.ErrInvariant.Has(err))
}

// memQuotesDB is an in-memory quotes.DB.
type memQuotesDB struct {
	nextID int64
	quotes map[int64]quotes.Quote
	items  map[int64]quotes.Item
}

func newMemQuotesDB() *memQuotesDB {
	return &memQuotesDB{
		quotes: map[int64]quotes.Quote{},
		items:  map[int64]quotes.Item{},
	}
}

func (db *memQuotesDB) Create(ctx context.Context, quote quotes.Quote) (quotes.Quote, error) {
	db.nextID++
	quote.ID = db.nextID
	quote.Version = 1
	db.quotes[quote.ID] = quote
	return quote, nil
}

func (db *memQuotesDB) Get(ctx context.Context, id int64) (quotes.Quote, error) {
	quote, ok := db.quotes[id]
	if !ok || quote.Deleted() {
		return quotes.Quote{}, gestima.ErrNotFound.New("quote %d", id)
	}
	return quote, nil
}

func (db *memQuotesDB) List(ctx context.Context) ([]quotes.Quote, error) {
	var out []quotes.Quote
	for _, quote := range db.quotes {
		if !quote.Deleted() {
			out = append(out, quote)
		}
	}
	return out, nil
}

func (db *memQuotesDB) Items(ctx context.Context, quoteID int64) ([]quotes.Item, error) {
	var out []quotes.Item
	for _, item := range db.items {
		if item.QuoteID == quoteID && !item.Deleted() {
			out = append(out, item)
		}
	}
	return out, nil
}

func (db *memQuotesDB) GetItem(ctx context.Context, itemID int64) (quotes.Item, error) {
	item, ok := db.items[itemID]
	if !ok || item.Deleted() {
		return quotes.Item{}, gestima.ErrNotFound.New("item %d", itemID)
	}
	return item, nil
}

func (db *memQuotesDB) writeTotals(quoteID int64, totals quotes.Totals) {
	quote := db.quotes[quoteID]
	quote.Subtotal = totals.Subtotal
	quote.DiscountAmount = totals.DiscountAmount
	quote.TaxAmount = totals.TaxAmount
	quote.Total = totals.Total
	quote.Version++
	db.quotes[quoteID] = quote
}

func (db *memQuotesDB) AddItem(ctx context.Context, item quotes.Item, totals quotes.Totals) (quotes.Item, error) {
	db.nextID++
	item.ID = db.nextID
	item.Version = 1
	db.items[item.ID] = item
	db.writeTotals(item.QuoteID, totals)
	return item, nil
}

func (db *memQuotesDB) UpdateItem(ctx context.Context, item quotes.Item, totals quotes.Totals) (quotes.Item, error) {
	db.items[item.ID] = item
	db.writeTotals(item.QuoteID, totals)
	return item, nil
}

func (db *memQuotesDB) RemoveItem(ctx context.Context, itemID int64, by string, totals quotes.Totals) error {
	item, ok := db.items[itemID]
	if !ok {
		return gestima.ErrNotFound.New("item %d", itemID)
	}
	now := time.Now()
	item.DeletedAt = &now
	item.DeletedBy = by
	db.items[itemID] = item
	db.writeTotals(item.QuoteID, totals)
	return nil
}

func (db *memQuotesDB) UpdateHeader(ctx context.Context, quote quotes.Quote, totals quotes.Totals) (quotes.Quote, error) {
	stored := db.quotes[quote.ID]
	stored.Title = quote.Title
	stored.DiscountPercent = quote.DiscountPercent
	stored.TaxPercent = quote.TaxPercent
	stored.Notes = quote.Notes
	db.quotes[quote.ID] = stored
	db.writeTotals(quote.ID, totals)
	return db.quotes[quote.ID], nil
}

func (db *memQuotesDB) SetStatus(ctx context.Context, id int64, status gestima.QuoteStatus, snapshot []byte, by string, at time.Time, version int64) (quotes.Quote, error) {
	quote := db.quotes[id]
	if quote.Version != version {
		return quotes.Quote{}, gestima.ErrVersionConflict.New("quote %d", id)
	}
	quote.Status = status
	if snapshot != nil {
		quote.SnapshotData = snapshot
	}
	switch status {
	case gestima.QuoteSent:
		quote.SentAt = &at
	case gestima.QuoteApproved:
		quote.ApprovedAt = &at
	case gestima.QuoteRejected:
		quote.RejectedAt = &at
	}
	quote.Version++
	db.quotes[id] = quote
	return quote, nil
}

func (db *memQuotesDB) SoftDelete(ctx context.Context, id int64, by string, version int64) error {
	quote := db.quotes[id]
	if quote.Version != version {
		return gestima.ErrVersionConflict.New("quote %d", id)
	}
	now := time.Now()
	quote.DeletedAt = &now
	quote.DeletedBy = by
	db.quotes[id] = quote
	return nil
}

// stubParts serves a single part.
type stubParts struct {
	parts.DB
	part parts.Part
}

func (db stubParts) Get(ctx context.Context, id int64) (parts.Part, error) {
	if id != db.part.ID {
		return parts.Part{}, gestima.ErrNotFound.New("part %d", id)
	}
	return db.part, nil
}

// stubPartners serves a single partner.
type stubPartners struct {
	partners.DB
	partner partners.Partner
}

func (db stubPartners) Get(ctx context.Context, id int64) (partners.Partner, error) {
	if id != db.partner.ID {
		return partners.Partner{}, gestima.ErrNotFound.New("partner %d", id)
	}
	return db.partner, nil
}

// stubBatches serves one frozen set with one frozen batch.
type stubBatches struct {
	batches.DB
	set     batches.BatchSet
	members []batches.Batch
	found   bool
}

func (db stubBatches) LatestFrozenSet(ctx context.Context, partID int64) (batches.BatchSet, bool, error) {
	return db.set, db.found, nil
}

func (db stubBatches) ListBySet(ctx context.Context, setID int64) ([]batches.Batch, error) {
	return db.members, nil
}

type allocDB struct{ next int64 }

func (db *allocDB) CountInRange(ctx context.Context, class numbers.Class, lo, hi int64) (int64, error) {
	return 0, nil
}

func (db *allocDB) Existing(ctx context.Context, class numbers.Class, candidates []int64) (map[int64]struct{}, error) {
	return nil, nil
}

func (db *allocDB) MaxInRange(ctx context.Context, class numbers.Class, lo, hi int64) (int64, bool, error) {
	return 0, false, nil
}

func newTestEngine(t *testing.T, frozenPricing bool) (*quotes.Engine, *memQuotesDB) {
	db := newMemQuotesDB()
	price := 100.0
	engine := quotes.NewEngine(
		zaptest.NewLogger(t),
		db,
		stubParts{part: parts.Part{ID: 7, PartNumber: 10000001, Name: "bracket"}},
		stubPartners{partner: partners.Partner{ID: 3, PartnerNumber: 70000001, Name: "ACME"}},
		stubBatches{
			set:     batches.BatchSet{ID: 5, SetNumber: 35000001, Status: gestima.BatchSetFrozen},
			members: []batches.Batch{{ID: 9, Quantity: 10, UnitCost: 90, UnitPriceFrozen: &price, IsFrozen: true}},
			found:   frozenPricing,
		},
		numbers.NewAllocator(zaptest.NewLogger(t), &allocDB{}, numbers.Config{}),
	)
	return engine, db
}

func TestEngine_DraftLifecycle(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	engine, _ := newTestEngine(t, true)

	quote, err := engine.CreateDraft(ctx, 3, "gearbox offer", 10, 21, "alice")
	require.NoError(t, err)
	require.Equal(t, gestima.QuoteDraft, quote.Status)
	require.NotZero(t, quote.QuoteNumber)

	item, err := engine.AddItem(ctx, quote.ID, 7, 11, "", "alice")
	require.NoError(t, err)
	// priced from the frozen unit price, not the live unit cost
	require.InDelta(t, 100.0, item.UnitPrice, gestima.MoneyTolerance)
	require.InDelta(t, 1100.0, item.LineTotal, gestima.MoneyTolerance)

	sent, err := engine.Send(ctx, quote.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, gestima.QuoteSent, sent.Status)
	require.NotNil(t, sent.SentAt)
	require.NotEmpty(t, sent.SnapshotData)
	require.InDelta(t, 1197.9, sent.Total, gestima.MoneyTolerance)
}

func TestEngine_EditLockAfterSend(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	engine, _ := newTestEngine(t, true)

	quote, err := engine.CreateDraft(ctx, 3, "offer", 0, 0, "alice")
	require.NoError(t, err)
	item, err := engine.AddItem(ctx, quote.ID, 7, 1, "", "alice")
	require.NoError(t, err)
	_, err = engine.Send(ctx, quote.ID, "alice")
	require.NoError(t, err)

	_, err = engine.AddItem(ctx, quote.ID, 7, 2, "", "alice")
	require.True(t, quotes.ErrEditLocked.Has(err))

	item.Quantity = 5
	_, err = engine.UpdateItem(ctx, item, "alice")
	require.True(t, quotes.ErrEditLocked.Has(err))

	err = engine.RemoveItem(ctx, quote.ID, item.ID, "alice")
	require.True(t, quotes.ErrEditLocked.Has(err))
}

func TestEngine_Transitions(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	engine, _ := newTestEngine(t, true)

	quote, err := engine.CreateDraft(ctx, 3, "offer", 0, 0, "alice")
	require.NoError(t, err)

	// draft cannot be approved directly
	_, err = engine.Approve(ctx, quote.ID, "boss")
	require.True(t, quotes.ErrInvalidTransition.Has(err))

	_, err = engine.Send(ctx, quote.ID, "alice")
	require.NoError(t, err)

	// sent cannot be sent again
	_, err = engine.Send(ctx, quote.ID, "alice")
	require.True(t, quotes.ErrInvalidTransition.Has(err))

	approved, err := engine.Approve(ctx, quote.ID, "boss")
	require.NoError(t, err)
	require.Equal(t, gestima.QuoteApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	_, err = engine.Reject(ctx, quote.ID, "boss")
	require.True(t, quotes.ErrInvalidTransition.Has(err))
}

func TestEngine_DeleteProtection(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	engine, _ := newTestEngine(t, true)

	quote, err := engine.CreateDraft(ctx, 3, "offer", 0, 0, "alice")
	require.NoError(t, err)
	_, err = engine.Send(ctx, quote.ID, "alice")
	require.NoError(t, err)

	err = engine.Delete(ctx, quote.ID, "alice")
	require.True(t, quotes.ErrDeleteProtected.Has(err))

	_, err = engine.Approve(ctx, quote.ID, "boss")
	require.NoError(t, err)
	err = engine.Delete(ctx, quote.ID, "alice")
	require.True(t, quotes.ErrDeleteProtected.Has(err))

	// rejected quotes may go
	rejected, err := engine.CreateDraft(ctx, 3, "other", 0, 0, "alice")
	require.NoError(t, err)
	_, err = engine.Send(ctx, rejected.ID, "alice")
	require.NoError(t, err)
	_, err = engine.Reject(ctx, rejected.ID, "boss")
	require.NoError(t, err)
	require.NoError(t, engine.Delete(ctx, rejected.ID, "alice"))
}

func TestEngine_NoFrozenPricing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	engine, _ := newTestEngine(t, false)

	quote, err := engine.CreateDraft(ctx, 3, "offer", 0, 0, "alice")
	require.NoError(t, err)

	_, err = engine.AddItem(ctx, quote.ID, 7, 1, "", "alice")
	require.True(t, quotes.ErrNoFrozenPricing.Has(err))
}

func TestEngine_Clone(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	engine, db := newTestEngine(t, true)

	quote, err := engine.CreateDraft(ctx, 3, "offer", 10, 21, "alice")
	require.NoError(t, err)
	_, err = engine.AddItem(ctx, quote.ID, 7, 11, "", "alice")
	require.NoError(t, err)
	sent, err := engine.Send(ctx, quote.ID, "alice")
	require.NoError(t, err)

	clone, err := engine.Clone(ctx, quote.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, gestima.QuoteDraft, clone.Status)
	require.NotEqual(t, sent.QuoteNumber, clone.QuoteNumber)
	require.Equal(t, "offer (Copy)", clone.Title)
	require.Empty(t, clone.SnapshotData)
	require.InDelta(t, sent.Total, clone.Total, gestima.MoneyTolerance)

	items, err := db.Items(ctx, clone.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotEqual(t, quote.ID, items[0].QuoteID)
}
