// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package sharerecovery recovers part drawings from a legacy network share.
package sharerecovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"gestima.io/gestima/files"
	"gestima.io/gestima/gestima"
	"gestima.io/gestima/parts"
)

var (
	// Error is the default sharerecovery errs class.
	Error = errs.Class("sharerecovery")

	mon = monkit.Package()
)

// Config configures the share scanner.
type Config struct {
	Root   string `help:"root directory of the drawing share" default:""`
	DryRun bool   `help:"report matches without storing anything" default:"true"`
}

// Scanner walks a share of per-part drawing folders and attaches the found
// PDFs through the file store.
type Scanner struct {
	log     *zap.Logger
	config  Config
	partsDB parts.DB
	filesDB files.DB
	store   *files.Store
	by      string
}

// NewScanner creates a share scanner writing on behalf of by.
func NewScanner(log *zap.Logger, config Config, partsDB parts.DB, filesDB files.DB, store *files.Store, by string) *Scanner {
	return &Scanner{
		log:     log,
		config:  config,
		partsDB: partsDB,
		filesDB: filesDB,
		store:   store,
		by:      by,
	}
}

// Action is one planned or executed attachment.
type Action struct {
	Folder  string
	File    string
	PartID  int64
	Article string
	Stored  bool
}

// Report is the aggregate of a scan.
type Report struct {
	Folders  int
	Matched  int
	Stored   int
	Skipped  int
	Actions  []Action
	Warnings []string
	Errors   []string
}

// Scan walks the share root. A folder belongs to the part whose article or
// part number the folder name begins with; the longest such match wins. Parts
// that already carry a primary drawing are skipped.
func (scanner *Scanner) Scan(ctx context.Context) (_ Report, err error) {
	defer mon.Task()(&ctx)(&err)

	var report Report

	active, err := scanner.partsDB.ListActive(ctx)
	if err != nil {
		return Report{}, Error.Wrap(err)
	}

	partIDs := make([]int64, 0, len(active))
	for _, part := range active {
		partIDs = append(partIDs, part.ID)
	}
	hasDrawing, err := scanner.filesDB.EntitiesWithPrimary(ctx, gestima.EntityPart, partIDs, gestima.LinkDrawing)
	if err != nil {
		return Report{}, Error.Wrap(err)
	}

	entries, err := os.ReadDir(scanner.config.Root)
	if err != nil {
		return Report{}, Error.Wrap(err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		report.Folders++

		part, ok := matchFolder(entry.Name(), active)
		if !ok {
			report.Warnings = append(report.Warnings,
				"no part for folder "+entry.Name())
			continue
		}
		report.Matched++

		if hasDrawing[part.ID] {
			report.Skipped++
			continue
		}

		candidate, err := scanner.pickCandidate(filepath.Join(scanner.config.Root, entry.Name()), part)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"%s: %v", entry.Name(), err))
			continue
		}
		if candidate == "" {
			report.Warnings = append(report.Warnings,
				"no pdf in folder "+entry.Name())
			continue
		}

		action := Action{
			Folder:  entry.Name(),
			File:    filepath.Base(candidate),
			PartID:  part.ID,
			Article: part.ArticleNumber,
		}

		if !scanner.config.DryRun {
			if err := scanner.attach(ctx, part, candidate); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf(
					"%s: %v", entry.Name(), err))
				report.Actions = append(report.Actions, action)
				continue
			}
			action.Stored = true
			report.Stored++
			hasDrawing[part.ID] = true
		}
		report.Actions = append(report.Actions, action)

		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}

	scanner.log.Info("share scanned",
		zap.String("root", scanner.config.Root),
		zap.Bool("dry_run", scanner.config.DryRun),
		zap.Int("folders", report.Folders),
		zap.Int("matched", report.Matched),
		zap.Int("stored", report.Stored),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// matchFolder resolves the owning part of a folder. The folder name has to
// begin with the article or the part number, bounded by the name end or a
// non-alphanumeric character.
func matchFolder(folder string, active []parts.Part) (parts.Part, bool) {
	name := strings.ToLower(strings.TrimSpace(folder))

	var best parts.Part
	bestLen := 0
	for _, part := range active {
		for _, key := range []string{
			strings.ToLower(strings.TrimSpace(part.ArticleNumber)),
			strconv.FormatInt(part.PartNumber, 10),
		} {
			if key == "" || len(key) <= bestLen {
				continue
			}
			if !strings.HasPrefix(name, key) {
				continue
			}
			if len(name) > len(key) && isAlphanumeric(name[len(key)]) {
				continue
			}
			best = part
			bestLen = len(key)
		}
	}
	return best, bestLen > 0
}

func isAlphanumeric(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// pickCandidate selects the drawing PDF inside a part folder. A file whose
// name contains the article is preferred; otherwise the newest PDF wins.
func (scanner *Scanner) pickCandidate(dir string, part parts.Part) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", Error.Wrap(err)
	}

	type candidate struct {
		path    string
		modTime int64
	}
	var pdfs []candidate
	article := strings.ToLower(strings.TrimSpace(part.ArticleNumber))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".pdf") {
			continue
		}
		if article != "" && strings.Contains(name, article) {
			return filepath.Join(dir, entry.Name()), nil
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		pdfs = append(pdfs, candidate{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime().UnixNano(),
		})
	}
	if len(pdfs) == 0 {
		return "", nil
	}

	sort.Slice(pdfs, func(i, j int) bool { return pdfs[i].modTime > pdfs[j].modTime })
	return pdfs[0].path, nil
}

// attach stores the blob and links it as the part's primary drawing.
func (scanner *Scanner) attach(ctx context.Context, part parts.Part, path string) (err error) {
	source, err := os.Open(path)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, source.Close()) }()

	directory := fmt.Sprintf("parts/%d", part.ID)
	record, err := scanner.store.Store(ctx, filepath.Base(path), source, directory,
		[]string{files.TypePDF}, scanner.by)
	if err != nil {
		return err
	}

	if _, err := scanner.store.Link(ctx, record.ID, gestima.EntityPart, part.ID,
		true, "", gestima.LinkDrawing, scanner.by); err != nil {
		return err
	}
	return scanner.partsDB.SetFile(ctx, part.ID, record.ID, scanner.by)
}
