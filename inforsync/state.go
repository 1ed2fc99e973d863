// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package inforsync schedules incremental imports from the ERP.
package inforsync

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Error is the default inforsync errs class.
var Error = errs.Class("inforsync")

// Sync step names, in execution order. Materials land before material inputs
// so code lookups resolve.
const (
	StepParts          = "parts"
	StepMaterials      = "materials"
	StepOperations     = "operations"
	StepMaterialInputs = "material_inputs"
	StepProduction     = "production"
	StepDocuments      = "documents"
)

// StepOrder is the fixed execution order of a full sync pass.
var StepOrder = []string{
	StepParts,
	StepMaterials,
	StepOperations,
	StepMaterialInputs,
	StepProduction,
	StepDocuments,
}

// Run statuses recorded in the sync state and log.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// State is the persistent per-step scheduler state.
type State struct {
	Step       string
	Enabled    bool
	Interval   time.Duration
	LastSyncAt *time.Time
	LastStatus string
	LastError  string
	UpdatedAt  time.Time
}

// Due reports whether the step should run at the given time.
func (state State) Due(now time.Time) bool {
	if !state.Enabled {
		return false
	}
	if state.LastSyncAt == nil {
		return true
	}
	return now.Sub(*state.LastSyncAt) >= state.Interval
}

// LogEntry is one recorded step run.
type LogEntry struct {
	ID         int64
	Step       string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Count      int
	Error      string
}

// DB is the scheduler state storage interface.
type DB interface {
	// SeedDefaults inserts missing step rows without touching existing ones.
	SeedDefaults(ctx context.Context, defaults []State) error
	All(ctx context.Context) ([]State, error)
	Get(ctx context.Context, step string) (State, bool, error)
	SetEnabled(ctx context.Context, step string, enabled bool) error
	SetInterval(ctx context.Context, step string, interval time.Duration) error

	// RecordSuccess stamps the watermark; the next incremental run filters
	// from this time.
	RecordSuccess(ctx context.Context, step string, at time.Time) error
	RecordError(ctx context.Context, step string, at time.Time, message string) error

	AppendLog(ctx context.Context, entry LogEntry) error
	Logs(ctx context.Context, step string, limit int) ([]LogEntry, error)
}

// DefaultStates returns the seed rows for a fresh database. Steps start
// disabled; an operator enables them after the work-center mapping and
// credentials are in place.
func DefaultStates() []State {
	defaults := make([]State, 0, len(StepOrder))
	for _, step := range StepOrder {
		defaults = append(defaults, State{
			Step:     step,
			Enabled:  false,
			Interval: time.Hour,
		})
	}
	return defaults
}
