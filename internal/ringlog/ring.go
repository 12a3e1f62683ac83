// Package ringlog provides a bounded, append-only log that evicts its oldest
// entry once full.
package ringlog

import "sync"

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 100

// Ring is a fixed-capacity FIFO of immutable entries. It is safe for
// concurrent use.
type Ring[T any] struct {
	mu      sync.RWMutex
	entries []T
	start   int
	size    int
}

// New creates a ring holding at most capacity entries.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring[T]{entries: make([]T, capacity)}
}

// Append adds an entry, evicting the oldest one when the ring is full.
func (r *Ring[T]) Append(entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.entries) {
		r.entries[(r.start+r.size)%len(r.entries)] = entry
		r.size++
		return
	}
	r.entries[r.start] = entry
	r.start = (r.start + 1) % len(r.entries)
}

// Snapshot returns the entries oldest first. The returned slice is a copy.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.entries[(r.start+i)%len(r.entries)]
	}
	return out
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.entries)
}
