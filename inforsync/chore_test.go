// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package inforsync_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/infor"
	"gestima.io/gestima/inforsync"
	"gestima.io/gestima/numbers"
	"gestima.io/gestima/parts"
	"gestima.io/gestima/private/testcontext"
)

// memStateDB is an in-memory inforsync.DB.
type memStateDB struct {
	states map[string]inforsync.State
	logs   []inforsync.LogEntry
}

func newMemStateDB() *memStateDB {
	return &memStateDB{states: map[string]inforsync.State{}}
}

func (db *memStateDB) SeedDefaults(ctx context.Context, defaults []inforsync.State) error {
	for _, state := range defaults {
		if _, ok := db.states[state.Step]; !ok {
			db.states[state.Step] = state
		}
	}
	return nil
}

func (db *memStateDB) All(ctx context.Context) ([]inforsync.State, error) {
	out := make([]inforsync.State, 0, len(db.states))
	for _, step := range inforsync.StepOrder {
		if state, ok := db.states[step]; ok {
			out = append(out, state)
		}
	}
	return out, nil
}

func (db *memStateDB) Get(ctx context.Context, step string) (inforsync.State, bool, error) {
	state, ok := db.states[step]
	return state, ok, nil
}

func (db *memStateDB) SetEnabled(ctx context.Context, step string, enabled bool) error {
	state := db.states[step]
	state.Enabled = enabled
	db.states[step] = state
	return nil
}

func (db *memStateDB) SetInterval(ctx context.Context, step string, interval time.Duration) error {
	state := db.states[step]
	state.Interval = interval
	db.states[step] = state
	return nil
}

func (db *memStateDB) RecordSuccess(ctx context.Context, step string, at time.Time) error {
	state := db.states[step]
	state.LastSyncAt = &at
	state.LastStatus = inforsync.StatusOK
	state.LastError = ""
	db.states[step] = state
	return nil
}

func (db *memStateDB) RecordError(ctx context.Context, step string, at time.Time, message string) error {
	state := db.states[step]
	state.LastStatus = inforsync.StatusError
	state.LastError = message
	db.states[step] = state
	return nil
}

func (db *memStateDB) AppendLog(ctx context.Context, entry inforsync.LogEntry) error {
	db.logs = append(db.logs, entry)
	return nil
}

func (db *memStateDB) Logs(ctx context.Context, step string, limit int) ([]inforsync.LogEntry, error) {
	var out []inforsync.LogEntry
	for _, entry := range db.logs {
		if entry.Step == step {
			out = append(out, entry)
		}
	}
	return out, nil
}

// stubClient serves canned rows and records the filters it saw.
type stubClient struct {
	rows    []infor.Row
	err     error
	filters []string
}

func (client *stubClient) LoadCollection(ctx context.Context, req infor.LoadRequest) (infor.LoadResult, error) {
	client.filters = append(client.filters, req.Filter)
	if client.err != nil {
		return infor.LoadResult{}, client.err
	}
	return infor.LoadResult{Rows: client.rows}, nil
}

// memPartsDB keeps parts in memory, keyed by article.
type memPartsDB struct {
	parts.DB
	nextID    int64
	byArticle map[string]parts.Part
}

func newMemPartsDB() *memPartsDB {
	return &memPartsDB{byArticle: map[string]parts.Part{}}
}

func (db *memPartsDB) Create(ctx context.Context, part parts.Part) (parts.Part, error) {
	db.nextID++
	part.ID = db.nextID
	part.Version = 1
	db.byArticle[part.ArticleNumber] = part
	return part, nil
}

func (db *memPartsDB) GetByArticle(ctx context.Context, article string) (parts.Part, error) {
	part, ok := db.byArticle[article]
	if !ok {
		return parts.Part{}, gestima.ErrNotFound.New("article %q", article)
	}
	return part, nil
}

func (db *memPartsDB) GetByArticles(ctx context.Context, articles []string) (map[string]parts.Part, error) {
	out := map[string]parts.Part{}
	for _, article := range articles {
		if part, ok := db.byArticle[article]; ok {
			out[article] = part
		}
	}
	return out, nil
}

func (db *memPartsDB) Update(ctx context.Context, part parts.Part) (parts.Part, error) {
	part.Version++
	db.byArticle[part.ArticleNumber] = part
	return part, nil
}

type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
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

type fixture struct {
	chore  *inforsync.Chore
	state  *memStateDB
	client *stubClient
	parts  *memPartsDB
	now    time.Time
}

func newFixture(t *testing.T, ctx context.Context) *fixture {
	f := &fixture{
		state:  newMemStateDB(),
		client: &stubClient{},
		parts:  newMemPartsDB(),
		now:    time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}

	log := zaptest.NewLogger(t)
	f.chore = inforsync.NewChore(log, inforsync.Config{
		Interval:            time.Second,
		InitialLookbackDays: 1,
		User:                "sync",
	}, inforsync.Deps{
		State:  f.state,
		Client: f.client,
		Tx:     passTx{},
		Parts:  f.parts,
		Alloc:  numbers.NewAllocator(log, allocDB{}, numbers.Config{}),
	})
	f.chore.TestingSetNow(func() time.Time { return f.now })

	require.NoError(t, f.state.SeedDefaults(ctx, inforsync.DefaultStates()))
	return f
}

func TestState_Due(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-2 * time.Hour)
	recent := now.Add(-time.Minute)

	require.False(t, inforsync.State{Enabled: false}.Due(now))
	require.True(t, inforsync.State{Enabled: true, Interval: time.Hour}.Due(now))
	require.True(t, inforsync.State{Enabled: true, Interval: time.Hour, LastSyncAt: &earlier}.Due(now))
	require.False(t, inforsync.State{Enabled: true, Interval: time.Hour, LastSyncAt: &recent}.Due(now))
}

func TestChore_TriggerAdvancesWatermark(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	f.client.rows = []infor.Row{
		{"Item": "A-1", "Description": "bracket", "Stat": "A"},
		{"Item": "B-2", "Description": "shaft", "Stat": "O"},
	}

	require.NoError(t, f.chore.TriggerStep(ctx, inforsync.StepParts))

	require.Len(t, f.parts.byArticle, 2)
	require.Equal(t, parts.StatusActive, f.parts.byArticle["A-1"].Status)
	require.Equal(t, parts.StatusQuote, f.parts.byArticle["B-2"].Status)

	state := f.state.states[inforsync.StepParts]
	require.Equal(t, inforsync.StatusOK, state.LastStatus)
	require.NotNil(t, state.LastSyncAt)
	// the watermark is the pre-fetch timestamp
	require.Equal(t, f.now, *state.LastSyncAt)

	require.Len(t, f.state.logs, 1)
	require.Equal(t, inforsync.StatusOK, f.state.logs[0].Status)
	require.Equal(t, 2, f.state.logs[0].Count)

	// the first run filters from now minus the lookback window
	lookback := infor.FormatFilterTime(f.now.Add(-24 * time.Hour))
	require.Contains(t, f.client.filters[0], "RecordDate >= '"+lookback+"'")

	// the second run filters from the stored watermark
	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.chore.TriggerStep(ctx, inforsync.StepParts))
	watermark := infor.FormatFilterTime(f.now.Add(-time.Hour))
	require.Contains(t, f.client.filters[1], "RecordDate >= '"+watermark+"'")
}

func TestChore_SecondRunUpdatesInsteadOfDuplicating(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	f.client.rows = []infor.Row{{"Item": "A-1", "Description": "bracket", "Stat": "A"}}

	require.NoError(t, f.chore.TriggerStep(ctx, inforsync.StepParts))
	first := f.parts.byArticle["A-1"]

	f.client.rows = []infor.Row{{"Item": "A-1", "Description": "bracket rev2", "Stat": "A"}}
	require.NoError(t, f.chore.TriggerStep(ctx, inforsync.StepParts))

	require.Len(t, f.parts.byArticle, 1)
	second := f.parts.byArticle["A-1"]
	require.Equal(t, first.PartNumber, second.PartNumber)
	require.Equal(t, "bracket rev2", second.Name)
}

func TestChore_FailureKeepsWatermark(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	f.client.rows = []infor.Row{{"Item": "A-1", "Stat": "A"}}

	require.NoError(t, f.chore.TriggerStep(ctx, inforsync.StepParts))
	watermark := *f.state.states[inforsync.StepParts].LastSyncAt

	f.now = f.now.Add(time.Hour)
	f.client.err = inforsync.Error.New("erp unreachable: %s", strings.Repeat("x", 600))
	err := f.chore.TriggerStep(ctx, inforsync.StepParts)
	require.Error(t, err)

	state := f.state.states[inforsync.StepParts]
	require.Equal(t, inforsync.StatusError, state.LastStatus)
	require.Len(t, state.LastError, 500)
	// the failed window is retried from the old watermark
	require.Equal(t, watermark, *state.LastSyncAt)

	require.Len(t, f.state.logs, 2)
	require.Equal(t, inforsync.StatusError, f.state.logs[1].Status)
}

func TestChore_RunOnceSkipsDisabledSteps(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	f.client.rows = []infor.Row{{"Item": "A-1", "Stat": "A"}}

	// all steps are seeded disabled
	require.NoError(t, f.chore.RunOnce(ctx))
	require.Empty(t, f.client.filters)
	require.Empty(t, f.parts.byArticle)

	require.NoError(t, f.state.SetEnabled(ctx, inforsync.StepParts, true))
	require.NoError(t, f.chore.RunOnce(ctx))
	require.Len(t, f.client.filters, 1)
	require.Len(t, f.parts.byArticle, 1)

	// not due again until the interval passes
	require.NoError(t, f.chore.RunOnce(ctx))
	require.Len(t, f.client.filters, 1)

	f.now = f.now.Add(2 * time.Hour)
	require.NoError(t, f.chore.RunOnce(ctx))
	require.Len(t, f.client.filters, 2)
}

func TestChore_UnknownStep(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	require.Error(t, f.chore.TriggerStep(ctx, "nonsense"))
}
