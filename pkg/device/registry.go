package device

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// Handle is a stable, opaque token identifying a registered device entry.
// Synchronous foreign-style callbacks receive the handle as their context
// value and look the entry up on every call; the registry keeps ownership,
// so no callback ever reconstructs or drops an owning value.
type Handle uint64

// Registry is the arena mapping handles to device entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[Handle]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Handle]*Entry)}
}

// newHandle derives a handle from a random UUID, retrying on the
// vanishingly unlikely collision.
func (r *Registry) newHandle() Handle {
	for {
		id := uuid.New()
		h := Handle(binary.BigEndian.Uint64(id[:8]))
		if h == 0 {
			continue
		}
		if _, taken := r.entries[h]; !taken {
			return h
		}
	}
}

// Register adds an entry and returns its handle.
func (r *Registry) Register(e *Entry) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.newHandle()
	r.entries[h] = e
	return h
}

// Get returns the entry for a handle. The registry retains ownership.
func (r *Registry) Get(h Handle) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	return e, ok
}

// Remove releases a handle. The entry itself is unaffected.
func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, h)
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
