// Package registry tracks which host elements have been enhanced. It is the
// only mutable shared state in the system; the supervisor owns its
// lifecycle and clears it wholesale on recovery.
package registry

import (
	"sync"
	"time"

	"caldup/internal/model"
)

// Registry maps event ids to their enhancement records. Safe for use from
// the supervisor loop and its timers. Entries must be re-validated for
// element liveness after any suspension point before being trusted, since
// the host document may have changed underneath.
type Registry struct {
	mu      sync.Mutex
	records map[string]model.EventRecord
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{records: make(map[string]model.EventRecord)}
}

// Track records an enhancement for id backed by elementRef. The first call
// for an id creates the record; later calls refresh the element ref and the
// stale clock. Returns true when the record was newly created.
func (r *Registry) Track(id, elementRef string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id]
	rec.ID = id
	rec.ElementRef = elementRef
	rec.LastSeen = now
	r.records[id] = rec
	return !exists
}

// Touch refreshes the stale clock for id if tracked.
func (r *Registry) Touch(id string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.LastSeen = now
		r.records[id] = rec
	}
}

// TouchByRef refreshes the stale clock for whichever record is backed by
// elementRef. Returns false when nothing matched.
func (r *Registry) TouchByRef(elementRef string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.records {
		if rec.ElementRef == elementRef {
			rec.LastSeen = now
			r.records[id] = rec
			return true
		}
	}
	return false
}

// MarkCustomUI records that the element's duplication affordance is
// attached.
func (r *Registry) MarkCustomUI(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.HasCustomUI = true
		r.records[id] = rec
	}
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (model.EventRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	return rec, ok
}

// Remove drops the record for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, id)
}

// RemoveByRef drops whichever record is backed by elementRef, returning the
// removed id ("" when nothing matched). Used by DOM-removal notifications.
func (r *Registry) RemoveByRef(elementRef string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.records {
		if rec.ElementRef == elementRef {
			delete(r.records, id)
			return id
		}
	}
	return ""
}

// EvictStale removes every record whose LastSeen is older than threshold
// and returns the evicted ids.
func (r *Registry) EvictStale(now time.Time, threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, rec := range r.records {
		if now.Sub(rec.LastSeen) > threshold {
			delete(r.records, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Clear drops every record. Recovery calls this before rescanning.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]model.EventRecord)
}

// Len reports the number of tracked records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.records)
}

// Snapshot returns a copy of all records, for health checks and the status
// API.
func (r *Registry) Snapshot() []model.EventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.EventRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}
