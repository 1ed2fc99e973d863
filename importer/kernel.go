// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package importer implements the declarative row import kernel and the
// concrete ERP importers built on it.
package importer

import (
	"context"
	"fmt"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"gestima.io/gestima/infor"
)

var (
	// Error is the default importer errs class.
	Error = errs.Class("importer")

	mon = monkit.Package()
)

// SkipKey set to true in a mapped row tells the kernel to omit the row
// entirely.
const SkipKey = "_skip"

// Duplicate actions.
const (
	DuplicateSkip   = "skip"
	DuplicateUpdate = "update"
)

// Row is one mapped record keyed by target field name.
type Row map[string]any

// Skipped reports whether the row carries the skip sentinel.
func (row Row) Skipped() bool {
	skip, _ := row[SkipKey].(bool)
	return skip
}

// String returns the value as a string, empty when absent or nil.
func (row Row) String(name string) string {
	value, ok := row[name]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Float returns the value as a float64 when possible.
func (row Row) Float(name string) (float64, bool) {
	switch v := row[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Transform converts a raw source value to the mapped value. A nil error with
// a nil value is a legal outcome.
type Transform func(value any) (any, error)

// FieldMapping maps one target field from one or more source fields.
type FieldMapping struct {
	Target string
	// Sources are consulted in order; the first non-empty value wins.
	Sources   []string
	Required  bool
	Transform Transform
}

// Config declares a concrete importer.
type Config struct {
	Entity string
	IDO    string
	// DuplicateColumn is the mapped field used for duplicate detection.
	DuplicateColumn string
	Mappings        []FieldMapping
}

// Importer is the entity-specific part of an import.
type Importer interface {
	Config() Config
	// MapRowCustom enriches the basic mapping; returning a row with the skip
	// sentinel drops the raw row.
	MapRowCustom(ctx context.Context, raw infor.Row, mapped Row) (Row, error)
	// CheckDuplicate returns an opaque existing-entity handle, or nil.
	CheckDuplicate(ctx context.Context, mapped Row) (any, error)
	CreateEntity(ctx context.Context, mapped Row) error
	UpdateEntity(ctx context.Context, existing any, mapped Row) error
}

// TxRunner commits a batch of entity writes atomically.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ValidationResult is the verdict on one mapped row.
type ValidationResult struct {
	IsValid          bool
	IsDuplicate      bool
	Existing         any
	Errors           []string
	Warnings         []string
	NeedsManualInput map[string]bool
}

// PreparedRow pairs a mapped row with its validation and per-row action.
type PreparedRow struct {
	Raw             infor.Row
	Mapped          Row
	Validation      ValidationResult
	DuplicateAction string
}

// Preview is the aggregate of a dry-run pass.
type Preview struct {
	Rows           []PreparedRow
	ValidCount     int
	ErrorCount     int
	DuplicateCount int
	SkippedCount   int
}

// Result is the aggregate of an executed import.
type Result struct {
	Created int
	Updated int
	Skipped int
	Errors  []string
}

// Kernel drives an Importer through mapping, validation and execution.
type Kernel struct {
	log *zap.Logger
	db  TxRunner
	imp Importer
}

// NewKernel creates a kernel around one importer.
func NewKernel(log *zap.Logger, db TxRunner, imp Importer) *Kernel {
	return &Kernel{log: log, db: db, imp: imp}
}

// ApplyBasicMapping walks the field-mapping list. Transform failures yield
// nil plus a warning instead of aborting the row.
func (kernel *Kernel) ApplyBasicMapping(raw infor.Row) (Row, []string) {
	config := kernel.imp.Config()
	mapped := Row{}
	var warnings []string

	for _, mapping := range config.Mappings {
		var value any
		for _, source := range mapping.Sources {
			if !raw.Empty(source) {
				value = raw[source]
				break
			}
		}

		if value != nil && mapping.Transform != nil {
			transformed, err := mapping.Transform(value)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf(
					"%s: transform failed: %v", mapping.Target, err))
				value = nil
			} else {
				value = transformed
			}
		}
		mapped[mapping.Target] = value
	}
	return mapped, warnings
}

// MapRow runs the basic mapping and the importer's custom enrichment.
func (kernel *Kernel) MapRow(ctx context.Context, raw infor.Row) (Row, []string, error) {
	mapped, warnings := kernel.ApplyBasicMapping(raw)
	enriched, err := kernel.imp.MapRowCustom(ctx, raw, mapped)
	if err != nil {
		return nil, warnings, err
	}
	return enriched, warnings, nil
}

// ValidateMappedRow checks required fields and duplicate status.
func (kernel *Kernel) ValidateMappedRow(ctx context.Context, mapped Row) (ValidationResult, error) {
	config := kernel.imp.Config()
	result := ValidationResult{
		IsValid:          true,
		NeedsManualInput: map[string]bool{},
	}

	for _, mapping := range config.Mappings {
		if !mapping.Required {
			continue
		}
		if value, ok := mapped[mapping.Target]; !ok || value == nil || value == "" {
			result.IsValid = false
			result.NeedsManualInput[mapping.Target] = true
			result.Errors = append(result.Errors, fmt.Sprintf(
				"missing required field %s", mapping.Target))
		}
	}

	if result.IsValid && config.DuplicateColumn != "" {
		existing, err := kernel.imp.CheckDuplicate(ctx, mapped)
		if err != nil {
			return ValidationResult{}, Error.Wrap(err)
		}
		if existing != nil {
			result.IsDuplicate = true
			result.Existing = existing
		}
	}
	return result, nil
}

// PreviewImport maps and validates every row without writing.
func (kernel *Kernel) PreviewImport(ctx context.Context, rows []infor.Row) (_ Preview, err error) {
	defer mon.Task()(&ctx)(&err)

	preview := Preview{Rows: make([]PreparedRow, 0, len(rows))}
	for _, raw := range rows {
		mapped, warnings, err := kernel.MapRow(ctx, raw)
		if err != nil {
			return Preview{}, Error.Wrap(err)
		}
		if mapped.Skipped() {
			preview.SkippedCount++
			continue
		}

		validation, err := kernel.ValidateMappedRow(ctx, mapped)
		if err != nil {
			return Preview{}, err
		}
		validation.Warnings = append(warnings, validation.Warnings...)

		switch {
		case !validation.IsValid:
			preview.ErrorCount++
		case validation.IsDuplicate:
			preview.DuplicateCount++
		default:
			preview.ValidCount++
		}

		preview.Rows = append(preview.Rows, PreparedRow{
			Raw:             raw,
			Mapped:          mapped,
			Validation:      validation,
			DuplicateAction: DuplicateSkip,
		})
	}
	return preview, nil
}

// ExecuteImport writes the prepared rows in one transaction. Per-row failures
// are collected; only a commit failure aborts the batch.
func (kernel *Kernel) ExecuteImport(ctx context.Context, prepared []PreparedRow) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	var result Result
	err = kernel.db.WithTx(ctx, func(ctx context.Context) error {
		for _, row := range prepared {
			if !row.Validation.IsValid || row.Mapped.Skipped() {
				result.Skipped++
				continue
			}

			switch {
			case row.Validation.IsDuplicate && row.DuplicateAction == DuplicateSkip:
				result.Skipped++

			case row.Validation.IsDuplicate:
				if err := kernel.imp.UpdateEntity(ctx, row.Validation.Existing, row.Mapped); err != nil {
					result.Errors = append(result.Errors, err.Error())
					continue
				}
				result.Updated++

			default:
				if err := kernel.imp.CreateEntity(ctx, row.Mapped); err != nil {
					result.Errors = append(result.Errors, err.Error())
					continue
				}
				result.Created++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, Error.Wrap(err)
	}

	kernel.log.Info("import executed",
		zap.String("entity", kernel.imp.Config().Entity),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}
