// Package schema keeps the latest announced field layout of every telemetry stream.
package schema

import (
	"sort"
	"sync"

	"github.com/LeonardoBeccarini/uadashboard/internal/model"
	"github.com/LeonardoBeccarini/uadashboard/pkg/metrics"
)

// Registry maps stream keys to their most recent schema. Entries are never evicted.
type Registry struct {
	mu       sync.RWMutex
	entries  map[model.StreamKey]model.SchemaEntry
	defaults map[model.Format]model.SchemaEntry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[model.StreamKey]model.SchemaEntry),
		defaults: map[model.Format]model.SchemaEntry{
			model.FormatJSON: {Default: true},
			model.FormatUADP: {Default: true},
		},
	}
}

// Upsert replaces or inserts the schema for key. Last writer wins.
func (r *Registry) Upsert(key model.StreamKey, entry model.SchemaEntry) {
	entry.Default = false
	fields := make([]model.FieldDescriptor, len(entry.Fields))
	copy(fields, entry.Fields)
	entry.Fields = fields

	r.mu.Lock()
	r.entries[key] = entry
	n := len(r.entries)
	r.mu.Unlock()

	metrics.Schemas.Set(float64(n))
}

// Resolve returns the schema for key, or the default entry of the given format.
func (r *Registry) Resolve(key model.StreamKey, format model.Format) model.SchemaEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[key]; ok {
		return e
	}
	return r.defaults[format]
}

// Lookup returns the stored schema for key without falling back.
func (r *Registry) Lookup(key model.StreamKey) (model.SchemaEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Keys returns the registered stream keys in a stable order.
func (r *Registry) Keys() []model.StreamKey {
	r.mu.RLock()
	keys := make([]model.StreamKey, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PublisherID != keys[j].PublisherID {
			return keys[i].PublisherID < keys[j].PublisherID
		}
		return keys[i].WriterID < keys[j].WriterID
	})
	return keys
}
