// Package registry maintains the current set of tracked entities. The set is
// bulk-loaded by rank, replaced wholesale on refresh, and safe for concurrent
// read while a single refresher swaps it out.
package registry

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"smartflow/database"
)

// EntitySource loads ranked entities from storage
type EntitySource interface {
	GetTopEntities(metric string, limit int) ([]database.TrackedEntity, error)
}

// Registry holds the tracked entity set for the pipeline
type Registry struct {
	source EntitySource
	topN   int
	metric string

	mu        sync.RWMutex
	byAddress map[string]database.TrackedEntity
}

// New creates an empty registry; call Refresh before use
func New(source EntitySource, topN int, metric string) *Registry {
	return &Registry{
		source:    source,
		topN:      topN,
		metric:    metric,
		byAddress: make(map[string]database.TrackedEntity),
	}
}

// Refresh reloads the top-N set and reports whether membership changed.
// A failed refresh keeps the previous set in effect; it never clears the
// registry to empty.
func (r *Registry) Refresh() (bool, error) {
	entities, err := r.source.GetTopEntities(r.metric, r.topN)
	if err != nil {
		return false, fmt.Errorf("registry refresh failed: %w", err)
	}

	fresh := make(map[string]database.TrackedEntity, len(entities))
	for _, e := range entities {
		fresh[strings.ToLower(e.Address)] = e
	}

	r.mu.Lock()
	changed := len(fresh) != len(r.byAddress)
	if !changed {
		for addr := range fresh {
			if _, ok := r.byAddress[addr]; !ok {
				changed = true
				break
			}
		}
	}
	r.byAddress = fresh
	r.mu.Unlock()

	if changed {
		log.Printf("📋 Registry refreshed: %d tracked entities (membership changed)", len(fresh))
	}
	return changed, nil
}

// Contains reports whether an address is currently tracked
func (r *Registry) Contains(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAddress[strings.ToLower(address)]
	return ok
}

// Metadata returns the tracked entity for an address
func (r *Registry) Metadata(address string) (database.TrackedEntity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byAddress[strings.ToLower(address)]
	return e, ok
}

// Addresses returns a snapshot of all tracked addresses
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byAddress))
	for addr := range r.byAddress {
		out = append(out, addr)
	}
	return out
}

// Size returns the number of tracked entities
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddress)
}
