// Package hub fans live events out to every connected subscriber.
//
// Subscribers can join and leave while a broadcast is in flight: Broadcast
// iterates over a snapshot of the subscriber set and each delivery is guarded
// by the subscription's own lock. Delivery never blocks; a subscriber whose
// buffer is full is dropped and its channel closed.
package hub

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 256

// Hub broadcasts values of type T to subscribers.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[string]*Subscription[T]
	buffer int
	onDrop func(id string)
	closed bool
}

// New creates a hub. onDrop, when non-nil, is called (outside any hub lock)
// for each subscriber evicted because it could not keep up.
func New[T any](buffer int, onDrop func(id string)) *Hub[T] {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub[T]{subs: make(map[string]*Subscription[T]), buffer: buffer, onDrop: onDrop}
}

// Subscription is one subscriber's view of the stream. C is closed when the
// subscription is closed by either side.
type Subscription[T any] struct {
	ID string
	C  <-chan T

	hub    *Hub[T]
	mu     sync.Mutex
	ch     chan T
	closed bool
}

// Subscribe registers a new subscriber. On a closed hub the returned
// subscription is already closed.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	ch := make(chan T, h.buffer)
	s := &Subscription[T]{ID: uuid.NewString(), C: ch, hub: h, ch: ch}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.shut()
		return s
	}
	h.subs[s.ID] = s
	return s
}

// Broadcast offers v to every subscriber and returns how many accepted it.
func (h *Hub[T]) Broadcast(v T) int {
	h.mu.Lock()
	targets := make([]*Subscription[T], 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	delivered := 0
	var dropped []string
	for _, s := range targets {
		ok, live := s.offer(v)
		switch {
		case ok:
			delivered++
		case live:
			dropped = append(dropped, s.ID)
		}
	}
	for _, id := range dropped {
		if h.remove(id) && h.onDrop != nil {
			h.onDrop(id)
		}
	}
	return delivered
}

// Len reports the current number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes and closes every subscriber. Later subscriptions start closed.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription[T])
	h.closed = true
	h.mu.Unlock()
	for _, s := range subs {
		s.shut()
	}
}

func (h *Hub[T]) remove(id string) bool {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		s.shut()
	}
	return ok
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.hub.remove(s.ID)
	s.shut()
}

// offer attempts a non-blocking send. live is false once the subscription is
// closed, in which case the value is silently discarded.
func (s *Subscription[T]) offer(v T) (ok, live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- v:
		return true, true
	default:
		return false, true
	}
}

func (s *Subscription[T]) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
