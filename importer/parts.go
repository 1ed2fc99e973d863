// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package importer

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/infor"
	"gestima.io/gestima/numbers"
	"gestima.io/gestima/parts"
)

// PartImporter imports parts from SLItems rows.
type PartImporter struct {
	log   *zap.Logger
	db    parts.DB
	alloc *numbers.Allocator
	by    string
}

// NewPartImporter creates a part importer writing on behalf of by.
func NewPartImporter(log *zap.Logger, db parts.DB, alloc *numbers.Allocator, by string) *PartImporter {
	return &PartImporter{log: log, db: db, alloc: alloc, by: by}
}

// Config implements Importer.
func (imp *PartImporter) Config() Config {
	return Config{
		Entity:          "part",
		IDO:             "SLItems",
		DuplicateColumn: "article_number",
		Mappings: []FieldMapping{
			{Target: "article_number", Sources: []string{"Item"}, Required: true},
			{Target: "name", Sources: []string{"Description"}},
			{Target: "status", Sources: []string{"Stat"}, Transform: translateStatus},
		},
	}
}

// translateStatus maps the external status label to the internal set.
func translateStatus(value any) (any, error) {
	switch strings.ToUpper(strings.TrimSpace(toString(value))) {
	case "A", "ACTIVE":
		return parts.StatusActive, nil
	default:
		return parts.StatusQuote, nil
	}
}

func toString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return Row{"v": value}.String("v")
}

// MapRowCustom implements Importer.
func (imp *PartImporter) MapRowCustom(ctx context.Context, raw infor.Row, mapped Row) (Row, error) {
	article := strings.TrimSpace(mapped.String("article_number"))
	mapped["article_number"] = article
	if article == "" {
		mapped["article_number"] = nil
	}
	return mapped, nil
}

// CheckDuplicate implements Importer.
func (imp *PartImporter) CheckDuplicate(ctx context.Context, mapped Row) (any, error) {
	part, err := imp.db.GetByArticle(ctx, mapped.String("article_number"))
	if gestima.ErrNotFound.Has(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return part, nil
}

// CreateEntity implements Importer.
func (imp *PartImporter) CreateEntity(ctx context.Context, mapped Row) error {
	number, err := imp.alloc.Allocate(ctx, numbers.ClassPart)
	if err != nil {
		return err
	}

	status := mapped.String("status")
	if status == "" {
		status = parts.StatusQuote
	}

	_, err = imp.db.Create(ctx, parts.Part{
		PartNumber:    number,
		ArticleNumber: mapped.String("article_number"),
		Name:          mapped.String("name"),
		Status:        status,
		Meta:          gestima.Meta{CreatedBy: imp.by},
	})
	return err
}

// UpdateEntity implements Importer. User-entered fields survive unless the
// external value is non-empty.
func (imp *PartImporter) UpdateEntity(ctx context.Context, existing any, mapped Row) error {
	part, ok := existing.(parts.Part)
	if !ok {
		return Error.New("unexpected duplicate handle %T", existing)
	}

	if name := mapped.String("name"); name != "" {
		part.Name = name
	}
	if status := mapped.String("status"); status != "" {
		part.Status = status
	}
	part.UpdatedBy = imp.by

	_, err := imp.db.Update(ctx, part)
	return err
}
