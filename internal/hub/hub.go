// Package hub fans notification records out to the live set of
// subscribers. Delivery is best-effort and ephemeral: no backlog, no
// replay, and a subscriber that cannot keep up loses messages rather
// than slowing the pipeline.
package hub

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/pushbeam/backend/internal/notification"
)

// subscriberBuffer is the per-subscriber channel capacity. A full
// buffer means the subscriber is slow; further records are dropped
// for it until it drains.
const subscriberBuffer = 16

// Subscriber is a live delivery target. Records arrive on C in
// publish order until the subscriber is unsubscribed or the hub
// stops, at which point C is closed.
type Subscriber struct {
	ID uuid.UUID
	C  <-chan notification.Record

	ch chan notification.Record
}

// Hub maintains the set of active subscribers and delivers one copy
// of each published record to every member. It is safe for concurrent
// use: Publish may run while Subscribe and Unsubscribe mutate the
// set.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uuid.UUID]*Subscriber
	stopped bool
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[uuid.UUID]*Subscriber)}
}

// Subscribe registers a new subscriber and returns its handle. After
// the hub has stopped, the returned subscriber's channel is already
// closed.
func (h *Hub) Subscribe() *Subscriber {
	ch := make(chan notification.Record, subscriberBuffer)
	sub := &Subscriber{ID: uuid.New(), C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. It takes
// effect before any publish that starts after it returns. Repeated
// calls for the same handle are no-ops.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
}

// Publish delivers one copy of the record to every current
// subscriber. A subscriber whose buffer is full has this record
// dropped; the remaining subscribers still receive it. Publishing
// with no subscribers is a silent no-op.
func (h *Hub) Publish(rec notification.Record) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return
	}

	dropped := 0
	for _, sub := range h.subs {
		select {
		case sub.ch <- rec:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		log.Printf("hub: dropped notification id=%s for %d slow subscriber(s)", rec.ID, dropped)
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stop closes every subscriber channel and rejects further publishes.
// Idempotent.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.stopped = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
