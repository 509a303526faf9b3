package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventBus stores recent notifications and provides incremental per-user
// reads. It is the in-process delivery channel polled by the API.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Notification
}

// NewEventBus creates a bounded in-memory notification buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Notification, 0, maxEvents),
	}
}

// Publish appends one notification and assigns sequence and timestamp.
func (b *EventBus) Publish(n Notification) Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	n.Seq = b.nextSeq
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, n)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Notification(nil), b.events[trim:]...)
	}
	return n
}

// Notify implements Notifier.
func (b *EventBus) Notify(_ context.Context, n Notification) error {
	b.Publish(n)
	return nil
}

// Since returns the user's notifications with sequence strictly greater
// than seq.
func (b *EventBus) Since(userID uuid.UUID, seq int64) []Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Notification, 0)
	for _, n := range b.events {
		if n.Seq > seq && n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// LastSeq returns the most recently assigned sequence number.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
