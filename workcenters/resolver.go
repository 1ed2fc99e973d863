// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package workcenters

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
)

var mon = monkit.Package()

// Resolver translates external work-center codes into internal ids.
//
// Resolution order: exact cache hit, exact mapping entry, longest mapping
// prefix of at least two characters. Unmatched codes resolve to zero with a
// human-readable warning.
type Resolver struct {
	log *zap.Logger
	db  DB

	mu      sync.Mutex
	mapping Mapping
	cache   map[string]int64
}

// NewResolver creates a resolver for the given mapping.
func NewResolver(log *zap.Logger, db DB, mapping Mapping) *Resolver {
	return &Resolver{
		log:     log,
		db:      db,
		mapping: mapping,
		cache:   make(map[string]int64),
	}
}

// Warmup pre-populates the cache for every configured mapping entry with a
// single batched lookup, so hot-path resolution touches the database only on
// cache misses for unmapped codes.
func (resolver *Resolver) Warmup(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	resolver.mu.Lock()
	targets := make([]int64, 0, len(resolver.mapping))
	for _, number := range resolver.mapping {
		targets = append(targets, number)
	}
	resolver.mu.Unlock()

	byNumber, err := resolver.db.GetByNumbers(ctx, targets)
	if err != nil {
		return Error.Wrap(err)
	}

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	for code, number := range resolver.mapping {
		if wc, ok := byNumber[number]; ok {
			resolver.cache[code] = wc.ID
		}
	}
	return nil
}

// Resolve translates an external code. A zero id with a non-empty warning
// means the code could not be resolved; that is not an error.
func (resolver *Resolver) Resolve(ctx context.Context, code string) (id int64, warning string, err error) {
	defer mon.Task()(&ctx)(&err)

	resolver.mu.Lock()
	if id, ok := resolver.cache[code]; ok {
		resolver.mu.Unlock()
		return id, "", nil
	}
	number, ok := resolver.mapping[code]
	if !ok {
		number, ok = resolver.longestPrefixTarget(code)
	}
	resolver.mu.Unlock()

	if !ok {
		return 0, fmt.Sprintf("work center code %q has no mapping entry", code), nil
	}

	wc, found, err := resolver.db.GetByNumber(ctx, number)
	if err != nil {
		return 0, "", Error.Wrap(err)
	}
	if !found {
		return 0, fmt.Sprintf("work center %d mapped from code %q does not exist", number, code), nil
	}

	resolver.mu.Lock()
	resolver.cache[code] = wc.ID
	resolver.mu.Unlock()

	return wc.ID, "", nil
}

// longestPrefixTarget finds the longest mapping key of length >= 2 that
// prefixes the code. Callers must hold the mutex.
func (resolver *Resolver) longestPrefixTarget(code string) (int64, bool) {
	best := ""
	for key := range resolver.mapping {
		if len(key) < 2 || !strings.HasPrefix(code, key) {
			continue
		}
		if len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return 0, false
	}
	return resolver.mapping[best], true
}

// SetMapping replaces the mapping and clears the cache.
func (resolver *Resolver) SetMapping(mapping Mapping) {
	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	resolver.mapping = mapping
	resolver.cache = make(map[string]int64)
}
