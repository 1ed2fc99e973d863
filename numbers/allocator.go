// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package numbers issues unique decimal identifiers per entity class from
// disjoint reserved ranges.
package numbers

import (
	"context"
	"math/rand"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	// Error is the default allocator errs class.
	Error = errs.Class("numbers")
	// ErrExhausted means the range is saturated or the collision rate is too high.
	ErrExhausted = errs.Class("number range exhausted")
	// ErrInvalidBatchSize means the requested batch size is out of bounds.
	ErrInvalidBatchSize = errs.Class("invalid batch size")

	mon = monkit.Package()
)

const (
	maxRetries   = 10
	maxBatchSize = 1000
)

// Class identifies an entity class with a reserved number range.
type Class string

// Entity classes with reserved ranges.
const (
	ClassPart       Class = "part"
	ClassMaterial   Class = "material"
	ClassBatch      Class = "batch"
	ClassBatchSet   Class = "batch_set"
	ClassQuote      Class = "quote"
	ClassPartner    Class = "partner"
	ClassWorkCenter Class = "work_center"
)

// Range is an inclusive reserved number range.
type Range struct {
	Lo, Hi     int64
	Sequential bool
}

// Capacity returns the number of identifiers in the range.
func (r Range) Capacity() int64 { return r.Hi - r.Lo + 1 }

var ranges = map[Class]Range{
	ClassPart:       {Lo: 10000000, Hi: 10999999},
	ClassMaterial:   {Lo: 20000000, Hi: 20999999},
	ClassBatch:      {Lo: 30000000, Hi: 30999999},
	ClassBatchSet:   {Lo: 35000000, Hi: 35999999},
	ClassQuote:      {Lo: 50000000, Hi: 50999999},
	ClassPartner:    {Lo: 70000000, Hi: 70999999},
	ClassWorkCenter: {Lo: 80000001, Hi: 80999999, Sequential: true},
}

// quoteHighRange is the alternate quote range selected by configuration.
var quoteHighRange = Range{Lo: 85000000, Hi: 85999999}

// DB is the storage dependency of the allocator.
type DB interface {
	// CountInRange counts live identifiers of the class within [lo, hi].
	CountInRange(ctx context.Context, class Class, lo, hi int64) (int64, error)
	// Existing returns the subset of candidates already taken by the class.
	Existing(ctx context.Context, class Class, candidates []int64) (map[int64]struct{}, error)
	// MaxInRange returns the largest identifier of the class within [lo, hi].
	MaxInRange(ctx context.Context, class Class, lo, hi int64) (max int64, found bool, err error)
}

// Config configures the allocator.
type Config struct {
	QuoteHighRange bool `help:"allocate quote numbers from the 85XXXXXX range" default:"false"`
}

// Allocator issues unique numbers per entity class.
//
// Random classes sample candidates with an adaptive buffer and subtract
// existing numbers in a single query; the uniqueness constraint in the store
// serializes any remaining collisions.
type Allocator struct {
	log    *zap.Logger
	db     DB
	config Config
}

// NewAllocator creates an allocator backed by db.
func NewAllocator(log *zap.Logger, db DB, config Config) *Allocator {
	return &Allocator{log: log, db: db, config: config}
}

// RangeFor returns the reserved range for the class, honoring the quote
// range configuration.
func (alloc *Allocator) RangeFor(class Class) Range {
	if class == ClassQuote && alloc.config.QuoteHighRange {
		return quoteHighRange
	}
	return ranges[class]
}

// Allocate issues a single number for the class.
func (alloc *Allocator) Allocate(ctx context.Context, class Class) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	batch, err := alloc.AllocateBatch(ctx, class, 1)
	if err != nil {
		return 0, err
	}
	return batch[0], nil
}

// AllocateBatch issues n unique numbers for the class.
func (alloc *Allocator) AllocateBatch(ctx context.Context, class Class, n int) (_ []int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if n <= 0 || n > maxBatchSize {
		return nil, ErrInvalidBatchSize.New("requested %d, allowed 1..%d", n, maxBatchSize)
	}

	r := alloc.RangeFor(class)
	if r.Capacity() <= 0 {
		return nil, Error.New("class %q has no reserved range", class)
	}

	if r.Sequential {
		return alloc.allocateSequential(ctx, class, r, n)
	}
	return alloc.allocateRandom(ctx, class, r, n)
}

func (alloc *Allocator) allocateSequential(ctx context.Context, class Class, r Range, n int) ([]int64, error) {
	max, found, err := alloc.db.MaxInRange(ctx, class, r.Lo, r.Hi)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	next := r.Lo
	if found {
		next = max + 1
	}
	if next+int64(n)-1 > r.Hi {
		return nil, ErrExhausted.New("class %q sequential range ends at %d", class, r.Hi)
	}

	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, next+int64(i))
	}
	return out, nil
}

func (alloc *Allocator) allocateRandom(ctx context.Context, class Class, r Range, n int) ([]int64, error) {
	count, err := alloc.db.CountInRange(ctx, class, r.Lo, r.Hi)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	utilization := float64(count) / float64(r.Capacity())
	multiplier := 2.0
	switch {
	case utilization < 0.5:
		multiplier = 2.0
	case utilization < 0.8:
		multiplier = 3.0
	default:
		multiplier = 5.0
	}

	buffer := int64(float64(n) * multiplier)
	for attempt := 0; attempt < maxRetries; attempt++ {
		candidates := sampleDistinct(r, buffer, buffer*10)

		existing, err := alloc.db.Existing(ctx, class, candidates)
		if err != nil {
			return nil, Error.Wrap(err)
		}

		free := candidates[:0]
		for _, c := range candidates {
			if _, taken := existing[c]; !taken {
				free = append(free, c)
			}
		}

		if len(free) >= n {
			return free[:n:n], nil
		}

		alloc.log.Debug("allocation retry",
			zap.String("class", string(class)),
			zap.Int("attempt", attempt+1),
			zap.Int("free", len(free)),
			zap.Int("wanted", n))
	}

	return nil, ErrExhausted.New("class %q: %d retries did not yield %d free numbers", class, maxRetries, n)
}

// sampleDistinct samples up to want distinct numbers from the range, giving
// up after limit iterations so that a nearly saturated range still terminates.
func sampleDistinct(r Range, want, limit int64) []int64 {
	seen := make(map[int64]struct{}, want)
	out := make([]int64, 0, want)
	for i := int64(0); i < limit && int64(len(out)) < want; i++ {
		candidate := r.Lo + rand.Int63n(r.Capacity())
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
	}
	return out
}
