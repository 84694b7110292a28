// Package events broadcasts fire-and-forget change notifications to any
// number of subscribers. Publishing never blocks: a subscriber that falls
// behind loses its oldest undelivered events.
package events

import (
	"context"
	"sync"
	"time"

	"taskrails/internal/domain"
	"taskrails/internal/observability"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 32

// Hub fans events out to subscribers. The zero value is not usable; call NewHub.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan domain.Event
	nextID uint64
	logger observability.Logger
}

// NewHub creates an empty hub.
func NewHub(logger observability.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]chan domain.Event),
		logger: observability.OrDiscard(logger).WithComponent("events"),
	}
}

// Publish delivers ev to every subscriber without waiting for any of them.
func (h *Hub) Publish(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		if !offer(ch, ev) {
			h.logger.Debug("dropped event for slow subscriber", "subscriber", id, "kind", ev.Kind)
		}
	}
}

// offer pushes ev, evicting the oldest queued event when the queue is full.
// It reports whether ev was queued.
func offer(ch chan domain.Event, ev domain.Event) bool {
	select {
	case ch <- ev:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

// Subscribe registers a subscriber. The channel is closed when ctx is done
// or the returned cancel function is called.
func (h *Hub) Subscribe(ctx context.Context, buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan domain.Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
