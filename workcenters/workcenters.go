// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package workcenters manages work centers and the translation of external
// ERP work-center codes into internal ids.
package workcenters

import (
	"context"
	"os"

	"github.com/zeebo/errs"
	"gopkg.in/yaml.v3"

	"gestima.io/gestima/gestima"
)

// Error is the default workcenters errs class.
var Error = errs.Class("workcenters")

// WorkCenter is a machine or workstation performing operations.
type WorkCenter struct {
	ID     int64
	Number int64
	Name   string
	Type   string

	// The effective hourly rate is the sum of the four components.
	RateMachine  float64
	RateLabor    float64
	RateOverhead float64
	RateMargin   float64

	CanTurn  bool
	CanMill  bool
	CanDrill bool

	gestima.Meta
}

// HourlyRate returns the effective hourly rate.
func (wc WorkCenter) HourlyRate() float64 {
	return wc.RateMachine + wc.RateLabor + wc.RateOverhead + wc.RateMargin
}

// DB is the work center storage interface.
type DB interface {
	Create(ctx context.Context, wc WorkCenter) (WorkCenter, error)
	Get(ctx context.Context, id int64) (WorkCenter, error)
	GetByNumber(ctx context.Context, number int64) (WorkCenter, bool, error)
	// GetByNumbers batch-resolves work centers by number.
	GetByNumbers(ctx context.Context, numbers []int64) (map[int64]WorkCenter, error)
	List(ctx context.Context) ([]WorkCenter, error)
	Update(ctx context.Context, wc WorkCenter) (WorkCenter, error)
}

// Mapping translates external work-center codes to internal work-center
// numbers.
type Mapping map[string]int64

// LoadMapping reads a mapping file (YAML or JSON).
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var mapping Mapping
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, Error.Wrap(err)
	}
	return mapping, nil
}
