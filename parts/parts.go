// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package parts defines manufactured parts and their owned children:
// operations, material inputs and material master items.
package parts

import (
	"context"

	"github.com/zeebo/errs"

	"gestima.io/gestima/gestima"
)

// Error is the default parts errs class.
var Error = errs.Class("parts")

// Part statuses.
const (
	StatusQuote  = "quote"
	StatusActive = "active"
)

// Part is a manufactured part.
type Part struct {
	ID            int64
	PartNumber    int64
	ArticleNumber string
	Name          string
	Status        string

	// Stock geometry hints used by the weight calculators.
	StockShape    string
	StockDiameter float64
	StockWidth    float64
	StockHeight   float64
	StockLength   float64

	// FileID points at the primary drawing, when one is attached.
	FileID *int64

	gestima.Meta
}

// Operation is a routed manufacturing step owned by a part. Seq is unique
// per part.
type Operation struct {
	ID     int64
	PartID int64
	Seq    int

	WorkCenterID *int64

	SetupTimeMin     float64
	OperationTimeMin float64

	// ManningPercent is the share of machine time an operator is occupied.
	ManningPercent     float64
	UtilizationPercent float64

	// IsCoop marks operations performed by an external subcontractor;
	// such operations carry zeroed times.
	IsCoop bool

	gestima.Meta
}

// MaterialItem is a material master-data record referenced by inputs.
type MaterialItem struct {
	ID         int64
	ItemNumber int64
	Code       string
	Name       string
	Shape      string
	Density    float64
	PricePerKg float64

	gestima.Meta
}

// MaterialInput is a stock consumption line owned by a part.
type MaterialInput struct {
	ID     int64
	PartID int64
	Seq    int

	PriceCategoryID *int64
	MaterialItemID  *int64

	Shape    string
	Diameter float64
	Width    float64
	Height   float64
	Length   float64

	Quantity float64

	// Unit-dependent reinterpretations of the imported quantity.
	CutLengthMM *float64
	Pieces      *int64

	gestima.Meta
}

// OperationKey addresses an operation by owning part and sequence.
type OperationKey struct {
	PartID int64
	Seq    int
}

// DB is the part storage interface.
type DB interface {
	Create(ctx context.Context, part Part) (Part, error)
	Get(ctx context.Context, id int64) (Part, error)
	GetByPartNumber(ctx context.Context, number int64) (Part, error)
	GetByArticle(ctx context.Context, article string) (Part, error)
	// GetByArticles batch-resolves parts; missing articles are absent from
	// the result.
	GetByArticles(ctx context.Context, articles []string) (map[string]Part, error)
	ListActive(ctx context.Context) ([]Part, error)
	Update(ctx context.Context, part Part) (Part, error)
	// SetFile points the part at its primary drawing file.
	SetFile(ctx context.Context, partID, fileID int64, by string) error
	// SoftDelete tombstones the part and cascades to its owned children.
	SoftDelete(ctx context.Context, id int64, by string, version int64) error
}

// OperationsDB is the operation storage interface.
type OperationsDB interface {
	// Upsert creates or updates by (part_id, seq).
	Upsert(ctx context.Context, op Operation) (Operation, error)
	GetBySeq(ctx context.Context, partID int64, seq int) (Operation, bool, error)
	ListByPart(ctx context.Context, partID int64) ([]Operation, error)
	// MapByKeys batch-loads operations for the material input linkage cache.
	MapByKeys(ctx context.Context, keys []OperationKey) (map[OperationKey]Operation, error)
}

// MaterialItemsDB is the material master storage interface.
type MaterialItemsDB interface {
	Create(ctx context.Context, item MaterialItem) (MaterialItem, error)
	GetByCode(ctx context.Context, code string) (MaterialItem, bool, error)
	GetByCodes(ctx context.Context, codes []string) (map[string]MaterialItem, error)
	Update(ctx context.Context, item MaterialItem) (MaterialItem, error)
	List(ctx context.Context) ([]MaterialItem, error)
}

// MaterialInputsDB is the material input storage interface.
type MaterialInputsDB interface {
	// Upsert creates or updates by (part_id, seq).
	Upsert(ctx context.Context, input MaterialInput) (MaterialInput, error)
	ListByPart(ctx context.Context, partID int64) ([]MaterialInput, error)
	// LinkOperation upserts the M:N association with an optional consumed
	// quantity.
	LinkOperation(ctx context.Context, inputID, operationID int64, consumed *float64) error
}
