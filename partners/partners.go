// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package partners manages business partners and their Czech business ids.
package partners

import (
	"context"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"gestima.io/gestima/gestima"
	"gestima.io/gestima/numbers"
)

var (
	// Error is the default partners errs class.
	Error = errs.Class("partners")
	// ErrValidation means a business id failed its checksum or format.
	ErrValidation = errs.Class("partner validation")
)

// Partner is a customer or supplier.
type Partner struct {
	ID            int64
	PartnerNumber int64
	Name          string
	IsCustomer    bool
	IsSupplier    bool
	ICO           string
	DIC           string

	gestima.Meta
}

// DB is the partner storage interface.
type DB interface {
	Create(ctx context.Context, partner Partner) (Partner, error)
	Get(ctx context.Context, id int64) (Partner, error)
	GetByNumber(ctx context.Context, number int64) (Partner, error)
	List(ctx context.Context) ([]Partner, error)
	Update(ctx context.Context, partner Partner) (Partner, error)
	SoftDelete(ctx context.Context, id int64, by string, version int64) error
}

// Service creates and updates partners with validated identifiers.
type Service struct {
	log   *zap.Logger
	db    DB
	alloc *numbers.Allocator
}

// NewService creates a partner service.
func NewService(log *zap.Logger, db DB, alloc *numbers.Allocator) *Service {
	return &Service{log: log, db: db, alloc: alloc}
}

// Create validates ids, allocates a partner number and stores the partner.
func (service *Service) Create(ctx context.Context, partner Partner, by string) (Partner, error) {
	if err := validateIDs(partner); err != nil {
		return Partner{}, err
	}

	number, err := service.alloc.Allocate(ctx, numbers.ClassPartner)
	if err != nil {
		return Partner{}, Error.Wrap(err)
	}
	partner.PartnerNumber = number
	partner.CreatedBy = by

	created, err := service.db.Create(ctx, partner)
	if err != nil {
		return Partner{}, Error.Wrap(err)
	}

	service.log.Info("partner created",
		zap.Int64("partner_number", created.PartnerNumber),
		zap.String("by", by))
	return created, nil
}

// Update validates ids and applies an optimistic-locked update.
func (service *Service) Update(ctx context.Context, partner Partner, by string) (Partner, error) {
	if err := validateIDs(partner); err != nil {
		return Partner{}, err
	}
	partner.UpdatedBy = by

	updated, err := service.db.Update(ctx, partner)
	if err != nil {
		return Partner{}, Error.Wrap(err)
	}

	service.log.Info("partner updated",
		zap.Int64("partner_number", updated.PartnerNumber),
		zap.String("by", by))
	return updated, nil
}

func validateIDs(partner Partner) error {
	if partner.ICO != "" {
		if err := ValidateICO(partner.ICO); err != nil {
			return err
		}
	}
	if partner.DIC != "" {
		if err := ValidateDIC(partner.DIC); err != nil {
			return err
		}
	}
	return nil
}

// ValidateICO checks the 8-digit Czech company id with its weighted mod-11
// checksum.
func ValidateICO(ico string) error {
	if len(ico) != 8 {
		return ErrValidation.New("ICO must have 8 digits: %q", ico)
	}

	sum := 0
	for i := 0; i < 7; i++ {
		d := ico[i]
		if d < '0' || d > '9' {
			return ErrValidation.New("ICO must be numeric: %q", ico)
		}
		sum += int(d-'0') * (8 - i)
	}

	last := ico[7]
	if last < '0' || last > '9' {
		return ErrValidation.New("ICO must be numeric: %q", ico)
	}

	check := (11 - sum%11) % 10
	if int(last-'0') != check {
		return ErrValidation.New("ICO checksum mismatch: %q", ico)
	}
	return nil
}

// ValidateDIC checks the Czech VAT id: the CZ prefix followed by 8 to 10
// digits.
func ValidateDIC(dic string) error {
	if !strings.HasPrefix(dic, "CZ") {
		return ErrValidation.New("DIC must start with CZ: %q", dic)
	}
	digits := dic[2:]
	if len(digits) < 8 || len(digits) > 10 {
		return ErrValidation.New("DIC must have 8 to 10 digits: %q", dic)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ErrValidation.New("DIC must be numeric after CZ: %q", dic)
		}
	}
	return nil
}
