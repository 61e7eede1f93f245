// Package broadcast fans auction events out to per-auction subscribers.
package broadcast

import (
	"sync"

	"auction-house/internal/events"
	"auction-house/utils"
)

// DefaultBuffer is the per-subscriber queue length used when none is configured
const DefaultBuffer = 64

// Hub keeps one topic per auction with at least one subscriber.
// Publish never blocks: a subscriber whose queue is full is disconnected so
// that every stream it did receive stays gap-free.
type Hub struct {
	mu     sync.Mutex
	buffer int
	topics map[string]*topic
}

type topic struct {
	seq  uint64
	subs map[*Subscription]struct{}
}

// Subscription is one observer's view of an auction channel
type Subscription struct {
	hub       *Hub
	auctionID string
	ch        chan events.Event
	closed    bool
}

// NewHub creates a hub whose subscribers buffer up to buffer events
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		topics: make(map[string]*topic),
	}
}

// Subscribe registers an observer and queues snapshot as its first event.
// Callers hold the auction's write lock so no mutation can commit between
// building the snapshot and registering the subscriber.
func (h *Hub) Subscribe(auctionID string, snapshot events.Event) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[auctionID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[auctionID] = t
	}

	sub := &Subscription{
		hub:       h,
		auctionID: auctionID,
		ch:        make(chan events.Event, h.buffer),
	}
	snapshot.Seq = t.seq
	sub.ch <- snapshot
	t.subs[sub] = struct{}{}

	return sub
}

// Publish stamps ev with the topic's next sequence number and delivers it to every subscriber
func (h *Hub) Publish(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[ev.AuctionID]
	if !ok {
		return
	}
	t.seq++
	ev.Seq = t.seq

	for sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			utils.Warn("Disconnecting slow subscriber", map[string]any{
				"auction_id": ev.AuctionID,
				"event":      ev.Type,
				"seq":        ev.Seq,
			})
			h.removeLocked(sub)
		}
	}
}

// SubscriberCount returns the number of observers of an auction
func (h *Hub) SubscriberCount(auctionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.topics[auctionID]; ok {
		return len(t.subs)
	}
	return 0
}

func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	t, ok := h.topics[sub.auctionID]
	if !ok {
		return
	}
	delete(t.subs, sub)
	if len(t.subs) == 0 {
		delete(h.topics, sub.auctionID)
	}
}

// Events returns the subscriber's queue. It is closed on Close or on disconnect.
func (s *Subscription) Events() <-chan events.Event {
	return s.ch
}

// Close unregisters the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s)
}
