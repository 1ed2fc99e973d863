// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package documents

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"gestima.io/gestima/files"
	"gestima.io/gestima/gestima"
	"gestima.io/gestima/infor"
	"gestima.io/gestima/parts"
	"gestima.io/gestima/private/sync2"
)

var (
	// Error is the default documents errs class.
	Error = errs.Class("documents")

	mon = monkit.Package()
)

const (
	downloadConcurrency = 10
	commitBatch         = 100
	// maxPages caps the bookmark pagination as a runaway guard.
	maxPages = 500
	pageSize = 200

	documentsIDO = "SLDocumentObjects_Exts"
)

// Client is the subset of the ERP client the importer needs.
type Client interface {
	LoadCollection(ctx context.Context, req infor.LoadRequest) (infor.LoadResult, error)
	DownloadDocument(ctx context.Context, rowPointer string) ([]byte, error)
}

// TxRunner commits a batch of writes atomically.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Importer drives the document import: paginated listing, matching, preview
// and the download/store execution.
type Importer struct {
	log     *zap.Logger
	client  Client
	store   *files.Store
	partsDB parts.DB
	filesDB files.DB
	tx      TxRunner
	by      string
}

// NewImporter creates a document importer writing on behalf of by.
func NewImporter(log *zap.Logger, client Client, store *files.Store, partsDB parts.DB, filesDB files.DB, tx TxRunner, by string) *Importer {
	return &Importer{
		log:     log,
		client:  client,
		store:   store,
		partsDB: partsDB,
		filesDB: filesDB,
		tx:      tx,
		by:      by,
	}
}

// List fetches document metadata with bookmark pagination. It aborts when a
// bookmark repeats or the page cap is reached.
func (imp *Importer) List(ctx context.Context, filter string) (_ []Metadata, err error) {
	defer mon.Task()(&ctx)(&err)

	var result []Metadata
	seen := map[string]bool{}
	bookmark := ""

	for page := 0; page < maxPages; page++ {
		loaded, err := imp.client.LoadCollection(ctx, infor.LoadRequest{
			IDO:        documentsIDO,
			Properties: []string{"RowPointer", "DocumentName", "Description"},
			Filter:     filter,
			RecordCap:  pageSize,
			LoadType:   loadTypeFor(page),
			Bookmark:   bookmark,
		})
		if err != nil {
			return nil, Error.Wrap(err)
		}

		for _, row := range loaded.Rows {
			result = append(result, Metadata{
				RowPointer:  row.String("RowPointer"),
				Name:        row.String("DocumentName"),
				Description: row.String("Description"),
			})
		}

		if !loaded.HasMore {
			return result, nil
		}
		if loaded.Bookmark == "" || seen[loaded.Bookmark] {
			return nil, Error.New("pagination loop at bookmark %q", loaded.Bookmark)
		}
		seen[loaded.Bookmark] = true
		bookmark = loaded.Bookmark
	}
	return nil, Error.New("pagination exceeded %d pages", maxPages)
}

func loadTypeFor(page int) infor.LoadType {
	if page == 0 {
		return infor.LoadFirst
	}
	return infor.LoadNext
}

// Preview matches documents against active parts and marks duplicates from
// existing drawing links.
func (imp *Importer) Preview(ctx context.Context, docs []Metadata) (_ []Match, err error) {
	defer mon.Task()(&ctx)(&err)

	active, err := imp.partsDB.ListActive(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	matches := MatchDocuments(docs, active)

	partIDs := make([]int64, 0, len(matches))
	for _, match := range matches {
		if match.IsValid {
			partIDs = append(partIDs, match.PartID)
		}
	}
	linked, err := imp.filesDB.EntitiesWithPrimary(ctx, gestima.EntityPart, partIDs, gestima.LinkDrawing)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	for i := range matches {
		if matches[i].IsValid && linked[matches[i].PartID] {
			matches[i].IsDuplicate = true
		}
	}
	return matches, nil
}

// Result is the aggregate of an executed document import.
type Result struct {
	Stored   int
	Skipped  int
	Errors   []string
	Warnings []string
}

type download struct {
	match Match
	data  []byte
	err   error
}

// Execute downloads and stores matched documents. Downloads run concurrently;
// writes are serialized and committed in batches.
func (imp *Importer) Execute(ctx context.Context, matches []Match) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	var result Result

	runnable := make([]Match, 0, len(matches))
	for _, match := range matches {
		if !match.IsValid {
			result.Skipped++
			continue
		}
		if match.IsDuplicate && match.DuplicateAction != "update" {
			result.Skipped++
			continue
		}
		runnable = append(runnable, match)
	}

	for start := 0; start < len(runnable); start += commitBatch {
		end := start + commitBatch
		if end > len(runnable) {
			end = len(runnable)
		}
		batch := runnable[start:end]

		downloads := imp.download(ctx, batch)

		err := imp.tx.WithTx(ctx, func(ctx context.Context) error {
			for _, dl := range downloads {
				if dl.err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf(
						"%s: %v", dl.match.Doc.Name, dl.err))
					continue
				}
				warnings, err := imp.storeOne(ctx, dl.match, dl.data)
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf(
						"%s: %v", dl.match.Doc.Name, err))
					continue
				}
				result.Warnings = append(result.Warnings, warnings...)
				result.Stored++
			}
			return nil
		})
		if err != nil {
			return Result{}, Error.Wrap(err)
		}
	}

	imp.log.Info("documents imported",
		zap.Int("stored", result.Stored),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// download fetches the batch binaries with bounded concurrency.
func (imp *Importer) download(ctx context.Context, batch []Match) []download {
	downloads := make([]download, len(batch))
	limiter := sync2.NewLimiter(downloadConcurrency)

	for i, match := range batch {
		i, match := i, match
		started := limiter.Go(ctx, func() {
			data, err := imp.client.DownloadDocument(ctx, match.Doc.RowPointer)
			downloads[i] = download{match: match, data: data, err: err}
		})
		if !started {
			downloads[i] = download{match: match, err: ctx.Err()}
		}
	}
	limiter.Wait()
	return downloads
}

// storeOne writes one downloaded drawing: blob, primary drawing link and the
// part's file pointer. A same-hash link on a different part is a soft
// warning, not an error.
func (imp *Importer) storeOne(ctx context.Context, match Match, data []byte) (warnings []string, err error) {
	name := match.Doc.Name
	directory := fmt.Sprintf("parts/%d", match.PartID)

	record, err := imp.store.Store(ctx, name, bytes.NewReader(data), directory,
		[]string{files.TypePDF}, imp.by)
	if err != nil {
		return nil, err
	}

	others, err := imp.filesDB.EntitiesLinkedToHash(ctx, record.Hash, gestima.EntityPart)
	if err != nil {
		return nil, err
	}
	for _, entityID := range others {
		if entityID != match.PartID {
			warnings = append(warnings, fmt.Sprintf(
				"%s: identical content already linked to part %d", name, entityID))
			break
		}
	}

	_, err = imp.store.Link(ctx, record.ID, gestima.EntityPart, match.PartID,
		true, "", gestima.LinkDrawing, imp.by)
	if err != nil {
		return nil, err
	}
	if err := imp.partsDB.SetFile(ctx, match.PartID, record.ID, imp.by); err != nil {
		return nil, err
	}
	return warnings, nil
}
