package sensor

import (
	"sync"

	"github.com/google/uuid"
)

// Registry maps sensor ids to descriptors for one session.
type Registry struct {
	mu      sync.RWMutex
	sensors map[uuid.UUID]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sensors: make(map[uuid.UUID]Descriptor),
	}
}

// InsertIfAbsent stores d unless its id is already known. It reports whether
// d was inserted; a known id keeps its original descriptor.
func (r *Registry) InsertIfAbsent(d Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sensors[d.ID]; exists {
		return false
	}
	r.sensors[d.ID] = d
	return true
}

// Get returns the descriptor for id.
func (r *Registry) Get(id uuid.UUID) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.sensors[id]
	return d, ok
}

// Resolve returns descriptors for ids in order, skipping unknown ids.
func (r *Registry) Resolve(ids []uuid.UUID) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		if d, ok := r.sensors[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Remove forgets id and returns the descriptor that was stored.
func (r *Registry) Remove(id uuid.UUID) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.sensors[id]
	delete(r.sensors, id)
	return d, ok
}

// List returns a snapshot of all descriptors in no particular order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.sensors))
	for _, d := range r.sensors {
		out = append(out, d)
	}
	return out
}

// Len returns the number of registered sensors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sensors)
}

// Clear removes every sensor.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensors = make(map[uuid.UUID]Descriptor)
}
