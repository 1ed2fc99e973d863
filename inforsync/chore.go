// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package inforsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"gestima.io/gestima/documents"
	"gestima.io/gestima/importer"
	"gestima.io/gestima/infor"
	"gestima.io/gestima/numbers"
	"gestima.io/gestima/parts"
	"gestima.io/gestima/private/sync2"
	"gestima.io/gestima/production"
	"gestima.io/gestima/workcenters"
)

var mon = monkit.Package()

const (
	// maxErrorLen bounds the stored last_error message.
	maxErrorLen = 500
	// maxFetchPages caps the generic row fetch pagination.
	maxFetchPages = 500
	fetchPageSize = 500
)

// Config configures the sync chore.
type Config struct {
	Interval            time.Duration `help:"how often the scheduler wakes up" default:"5s"`
	InitialLookbackDays int           `help:"history window for a fresh watermark" default:"1"`
	User                string        `help:"audit user recorded on synced rows" default:"sync"`
}

// Client is the subset of the ERP client the chore needs.
type Client interface {
	LoadCollection(ctx context.Context, req infor.LoadRequest) (infor.LoadResult, error)
}

// Deps bundles the storage and importer dependencies of the chore.
type Deps struct {
	State          DB
	Client         Client
	Tx             importer.TxRunner
	Parts          parts.DB
	Operations     parts.OperationsDB
	MaterialItems  parts.MaterialItemsDB
	MaterialInputs parts.MaterialInputsDB
	Production     production.DB
	Alloc          *numbers.Allocator
	Resolver       *workcenters.Resolver
	Documents      *documents.Importer
}

// stepSpec is the static per-step fetch configuration; the database carries
// only the mutable scheduler state.
type stepSpec struct {
	IDO        string
	Properties []string
	BaseFilter string
	DateField  string
}

var stepSpecs = map[string]stepSpec{
	StepParts: {
		IDO:        "SLItems",
		Properties: []string{"Item", "Description", "Stat", "RecordDate"},
		BaseFilter: `FamilyCode LIKE 'Výrobek'`,
		DateField:  "RecordDate",
	},
	StepMaterials: {
		IDO:        "SLItems",
		Properties: []string{"Item", "Description", "UnitCost", "AvgCost", "RecordDate"},
		BaseFilter: `FamilyCode LIKE 'Materiál'`,
		DateField:  "RecordDate",
	},
	StepOperations: {
		IDO: "SLJobRoutes",
		Properties: []string{
			"Item", "Job", "OperNum", "Wc", "ObsDate",
			"DerRunMchHrs", "DerRunLbrHrs", "JshSetupHrs", "JshSchedHrs", "RecordDate",
		},
		BaseFilter: `Type = 'S'`,
		DateField:  "RecordDate",
	},
	StepMaterialInputs: {
		IDO: "SLJobmatls",
		Properties: []string{
			"Item", "Job", "Sequence", "OperNum", "MatlQtyConv", "UM", "RecordDate",
		},
		DateField: "RecordDate",
	},
	StepProduction: {
		IDO: "SLJobRoutes",
		Properties: []string{
			"Item", "Job", "OperNum", "Wc", "ObsDate",
			"DerRunMchHrs", "DerRunLbrHrs", "JshSetupHrs", "JshSchedHrs",
			"QtyReleased", "RunMchHrsT", "RunLbrHrsT", "SetupHrsT", "RecordDate",
		},
		BaseFilter: `Type = 'J'`,
		DateField:  "RecordDate",
	},
	StepDocuments: {
		IDO:        "SLDocumentObjects_Exts",
		Properties: []string{"RowPointer", "DocumentName", "Description", "RecordDate"},
		DateField:  "RecordDate",
	},
}

// Chore polls the ERP on a short cycle and runs due sync steps. A
// process-wide mutex serializes step execution; manual triggers take the same
// mutex.
type Chore struct {
	log    *zap.Logger
	config Config
	deps   Deps

	Loop *sync2.Cycle

	mu    sync.Mutex
	nowFn func() time.Time
}

// NewChore creates the sync chore.
func NewChore(log *zap.Logger, config Config, deps Deps) *Chore {
	if config.Interval == 0 {
		config.Interval = 5 * time.Second
	}
	return &Chore{
		log:    log,
		config: config,
		deps:   deps,
		Loop:   sync2.NewCycle(config.Interval),
		nowFn:  time.Now,
	}
}

// TestingSetNow overrides the clock.
func (chore *Chore) TestingSetNow(nowFn func() time.Time) { chore.nowFn = nowFn }

// Run seeds default step states and starts the tick loop.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := chore.deps.State.SeedDefaults(ctx, DefaultStates()); err != nil {
		return err
	}
	return chore.Loop.Run(ctx, chore.RunOnce)
}

// Close stops the tick loop.
func (chore *Chore) Close() error {
	chore.Loop.Close()
	return nil
}

// RunOnce executes every due step.
func (chore *Chore) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	states, err := chore.deps.State.All(ctx)
	if err != nil {
		return err
	}

	for _, state := range states {
		if !state.Due(chore.nowFn()) {
			continue
		}
		if err := chore.runStep(ctx, state.Step, false); err != nil {
			// recorded in the step state; the loop keeps going
			chore.log.Error("sync step failed",
				zap.String("step", state.Step), zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// TriggerStep runs one step immediately, bypassing the enabled flag.
func (chore *Chore) TriggerStep(ctx context.Context, step string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return chore.runStep(ctx, step, true)
}

func (chore *Chore) runStep(ctx context.Context, step string, manual bool) (err error) {
	chore.mu.Lock()
	defer chore.mu.Unlock()

	state, found, err := chore.deps.State.Get(ctx, step)
	if err != nil {
		return err
	}
	if !found {
		return Error.New("unknown step %q", step)
	}
	if !manual && !state.Due(chore.nowFn()) {
		return nil
	}

	// the watermark advances to the pre-fetch timestamp, not the finish
	// time, so rows written during the run are not missed
	started := chore.nowFn()
	count, err := chore.dispatch(ctx, step, state, started)
	finished := chore.nowFn()

	if err != nil {
		message := err.Error()
		if len(message) > maxErrorLen {
			message = message[:maxErrorLen]
		}
		if stateErr := chore.deps.State.RecordError(ctx, step, finished, message); stateErr != nil {
			return errs.Combine(err, stateErr)
		}
		logErr := chore.deps.State.AppendLog(ctx, LogEntry{
			Step: step, StartedAt: started, FinishedAt: finished,
			Status: StatusError, Error: message,
		})
		return errs.Combine(err, logErr)
	}

	if err := chore.deps.State.RecordSuccess(ctx, step, started); err != nil {
		return err
	}
	if err := chore.deps.State.AppendLog(ctx, LogEntry{
		Step: step, StartedAt: started, FinishedAt: finished,
		Status: StatusOK, Count: count,
	}); err != nil {
		return err
	}

	chore.log.Info("sync step finished",
		zap.String("step", step),
		zap.Int("count", count),
		zap.Duration("elapsed", finished.Sub(started)))
	return nil
}

// watermark returns the incremental fetch boundary for a step.
func (chore *Chore) watermark(state State, now time.Time) time.Time {
	if state.LastSyncAt != nil {
		return *state.LastSyncAt
	}
	return now.Add(-time.Duration(chore.config.InitialLookbackDays) * 24 * time.Hour)
}

func (chore *Chore) buildFilter(spec stepSpec, watermark time.Time) string {
	filter := fmt.Sprintf("%s >= '%s'", spec.DateField, infor.FormatFilterTime(watermark))
	if spec.BaseFilter != "" {
		return spec.BaseFilter + " AND " + filter
	}
	return filter
}

// fetchRows pages through the step's collection.
func (chore *Chore) fetchRows(ctx context.Context, spec stepSpec, filter string) ([]infor.Row, error) {
	var rows []infor.Row
	seen := map[string]bool{}
	bookmark := ""

	for page := 0; page < maxFetchPages; page++ {
		loadType := infor.LoadNext
		if page == 0 {
			loadType = infor.LoadFirst
		}
		loaded, err := chore.deps.Client.LoadCollection(ctx, infor.LoadRequest{
			IDO:        spec.IDO,
			Properties: spec.Properties,
			Filter:     filter,
			RecordCap:  fetchPageSize,
			LoadType:   loadType,
			Bookmark:   bookmark,
		})
		if err != nil {
			return nil, Error.Wrap(err)
		}
		rows = append(rows, loaded.Rows...)

		if !loaded.HasMore {
			return rows, nil
		}
		if loaded.Bookmark == "" || seen[loaded.Bookmark] {
			return nil, Error.New("pagination loop at bookmark %q", loaded.Bookmark)
		}
		seen[loaded.Bookmark] = true
		bookmark = loaded.Bookmark
	}
	return nil, Error.New("pagination exceeded %d pages", maxFetchPages)
}

func (chore *Chore) dispatch(ctx context.Context, step string, state State, started time.Time) (int, error) {
	spec, ok := stepSpecs[step]
	if !ok {
		return 0, Error.New("no fetch specification for step %q", step)
	}
	filter := chore.buildFilter(spec, chore.watermark(state, started))

	switch step {
	case StepParts:
		return chore.runKernelStep(ctx, spec, filter,
			importer.NewPartImporter(chore.log.Named("parts"), chore.deps.Parts, chore.deps.Alloc, chore.config.User))

	case StepMaterials:
		return chore.runKernelStep(ctx, spec, filter,
			importer.NewMaterialItemImporter(chore.log.Named("materials"), chore.deps.MaterialItems, chore.deps.Alloc, chore.config.User))

	case StepOperations:
		return chore.runGroupedStep(ctx, spec, filter, func(partID int64) importer.Importer {
			return importer.NewJobRoutingImporter(chore.log.Named("operations"),
				chore.deps.Operations, chore.deps.Resolver, partID, chore.config.User)
		})

	case StepProduction:
		return chore.runGroupedStep(ctx, spec, filter, func(partID int64) importer.Importer {
			return importer.NewProductionImporter(chore.log.Named("production"),
				chore.deps.Production, chore.deps.Resolver, partID, chore.config.User)
		})

	case StepMaterialInputs:
		return chore.runMaterialInputs(ctx, spec, filter)

	case StepDocuments:
		return chore.runDocuments(ctx, filter)
	}
	return 0, Error.New("step %q has no dispatch path", step)
}

// runKernelStep previews, promotes valid and duplicate rows to update action
// and executes.
func (chore *Chore) runKernelStep(ctx context.Context, spec stepSpec, filter string, imp importer.Importer) (int, error) {
	rows, err := chore.fetchRows(ctx, spec, filter)
	if err != nil {
		return 0, err
	}

	kernel := importer.NewKernel(chore.log, chore.deps.Tx, imp)
	preview, err := kernel.PreviewImport(ctx, rows)
	if err != nil {
		return 0, err
	}

	prepared := make([]importer.PreparedRow, 0, len(preview.Rows))
	for _, row := range preview.Rows {
		if !row.Validation.IsValid {
			continue
		}
		row.DuplicateAction = importer.DuplicateUpdate
		prepared = append(prepared, row)
	}

	result, err := kernel.ExecuteImport(ctx, prepared)
	if err != nil {
		return 0, err
	}
	if len(result.Errors) > 0 {
		chore.log.Warn("rows failed during import",
			zap.String("ido", spec.IDO), zap.Strings("errors", result.Errors))
	}
	return result.Created + result.Updated, nil
}

// runGroupedStep groups rows by external article, batch-resolves parts and
// executes a per-part importer.
func (chore *Chore) runGroupedStep(ctx context.Context, spec stepSpec, filter string, makeImporter func(partID int64) importer.Importer) (int, error) {
	rows, err := chore.fetchRows(ctx, spec, filter)
	if err != nil {
		return 0, err
	}

	grouped := map[string][]infor.Row{}
	articles := make([]string, 0, len(rows))
	for _, row := range rows {
		article := row.String("Item")
		if article == "" {
			continue
		}
		if _, seen := grouped[article]; !seen {
			articles = append(articles, article)
		}
		grouped[article] = append(grouped[article], row)
	}

	byArticle, err := chore.deps.Parts.GetByArticles(ctx, articles)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, article := range articles {
		part, ok := byArticle[article]
		if !ok {
			chore.log.Debug("no part for synced rows", zap.String("article", article))
			continue
		}

		kernel := importer.NewKernel(chore.log, chore.deps.Tx, makeImporter(part.ID))
		preview, err := kernel.PreviewImport(ctx, grouped[article])
		if err != nil {
			return total, err
		}
		prepared := make([]importer.PreparedRow, 0, len(preview.Rows))
		for _, row := range preview.Rows {
			if !row.Validation.IsValid {
				continue
			}
			row.DuplicateAction = importer.DuplicateUpdate
			prepared = append(prepared, row)
		}
		result, err := kernel.ExecuteImport(ctx, prepared)
		if err != nil {
			return total, err
		}
		total += result.Created + result.Updated
	}
	return total, nil
}

// runMaterialInputs bypasses the kernel: inputs write the operation linkage
// as well, and commits happen per part group.
func (chore *Chore) runMaterialInputs(ctx context.Context, spec stepSpec, filter string) (int, error) {
	rows, err := chore.fetchRows(ctx, spec, filter)
	if err != nil {
		return 0, err
	}

	grouped := map[string][]infor.Row{}
	articles := make([]string, 0, len(rows))
	codes := make([]string, 0, len(rows))
	codeSeen := map[string]bool{}
	for _, row := range rows {
		// on standard jobs the job number is the part article; Item here is
		// the material code
		article := row.String("Job")
		if article == "" {
			continue
		}
		if _, seen := grouped[article]; !seen {
			articles = append(articles, article)
		}
		grouped[article] = append(grouped[article], row)

		if code := row.String("Item"); code != "" && !codeSeen[code] {
			codeSeen[code] = true
			codes = append(codes, code)
		}
	}

	byArticle, err := chore.deps.Parts.GetByArticles(ctx, articles)
	if err != nil {
		return 0, err
	}
	itemsByCode, err := chore.deps.MaterialItems.GetByCodes(ctx, codes)
	if err != nil {
		return 0, err
	}

	var keys []parts.OperationKey
	for article, group := range grouped {
		part, ok := byArticle[article]
		if !ok {
			continue
		}
		for _, row := range group {
			if seq, ok := row.Float("OperNum"); ok {
				keys = append(keys, parts.OperationKey{PartID: part.ID, Seq: int(seq)})
			}
		}
	}
	operations, err := chore.deps.Operations.MapByKeys(ctx, keys)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, article := range articles {
		part, ok := byArticle[article]
		if !ok {
			continue
		}

		group := grouped[article]
		err := chore.deps.Tx.WithTx(ctx, func(ctx context.Context) error {
			for _, raw := range group {
				mapped := importer.MapMaterialInput(raw, part.ID, itemsByCode, operations, chore.config.User)
				if len(mapped.Errors) > 0 {
					chore.log.Warn("material input rejected",
						zap.String("article", article),
						zap.Strings("errors", mapped.Errors))
					continue
				}
				stored, err := chore.deps.MaterialInputs.Upsert(ctx, mapped.Input)
				if err != nil {
					return err
				}
				if mapped.OperationID != nil {
					if err := chore.deps.MaterialInputs.LinkOperation(ctx, stored.ID, *mapped.OperationID, mapped.Consumed); err != nil {
						return err
					}
				}
				total++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// runDocuments previews and executes the document import with the update
// action so refreshed drawings replace stale ones.
func (chore *Chore) runDocuments(ctx context.Context, filter string) (int, error) {
	docs, err := chore.deps.Documents.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	matches, err := chore.deps.Documents.Preview(ctx, docs)
	if err != nil {
		return 0, err
	}
	for i := range matches {
		matches[i].DuplicateAction = "update"
	}
	result, err := chore.deps.Documents.Execute(ctx, matches)
	if err != nil {
		return 0, err
	}
	return result.Stored, nil
}
