// Package ring provides a bounded FIFO deque that evicts its oldest
// element on overflow. Producers are the WebSocket stream handlers;
// reads happen on the orchestration goroutines, so a mutex guard is
// sufficient.
package ring

import "sync"

// Ring is a bounded evict-oldest FIFO.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int
	count int
}

// New creates a ring with the given fixed capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ring capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = v
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Snapshot copies the buffered elements oldest-first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// First returns the oldest element, if any.
func (r *Ring[T]) First() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[r.head], true
}

// Clear drops every buffered element.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head, r.count = 0, 0
}
