package events

import (
	"sync"
	"sync/atomic"
)

// Hub fans one event source out to any number of subscribers. Each
// subscriber owns an independently buffered channel: a slow consumer loses
// events once its queue is full, it never stalls the producer.
type Hub struct {
	depth int

	mu     sync.Mutex
	next   int
	subs   map[int]chan Event
	closed bool

	dropped atomic.Uint64
}

// NewHub creates a hub with the given per-subscriber queue depth.
func NewHub(depth int) *Hub {
	if depth <= 0 {
		depth = 64
	}
	return &Hub{depth: depth, subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called exactly once; it closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.depth)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking. Events to
// a full subscriber queue are dropped and counted.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns the total number of events dropped to slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
