// Package store holds the in-memory recent history served to new clients.
//
// Bounded is a fixed-capacity ordered sequence with FIFO eviction. The relay
// owns two instances (chat and questions) and hands them to the HTTP layer by
// reference; there is no package-level state.
package store

import "sync"

// DefaultCapacity matches the number of entries the relay keeps per stream.
const DefaultCapacity = 200

// Bounded is an ordered sequence holding at most Cap() elements. Push is the
// only mutation; when it would exceed capacity the oldest elements are dropped.
type Bounded[T any] struct {
	mu    sync.RWMutex
	items []T
	cap   int
}

// New returns an empty Bounded with the given capacity. Capacities below one are
// clamped to one.
func New[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{items: make([]T, 0, capacity), cap: capacity}
}

// Push appends v to the tail and evicts from the head until len == Cap().
func (b *Bounded[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, v)
	if over := len(b.items) - b.cap; over > 0 {
		// shift survivors down so the backing array never grows past cap+1
		n := copy(b.items, b.items[over:])
		var zero T
		for i := n; i < len(b.items); i++ {
			b.items[i] = zero
		}
		b.items = b.items[:n]
	}
}

// Snapshot returns a copy of the contents, oldest first.
func (b *Bounded[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of buffered elements.
func (b *Bounded[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Cap returns the fixed capacity.
func (b *Bounded[T]) Cap() int { return b.cap }
