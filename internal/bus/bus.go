// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package bus fans normalized gateway events out to live subscribers.
//
// Broadcast is best-effort per subscriber: publishing never blocks, and a
// subscriber whose bounded queue overflows is dropped (its channel closed)
// rather than buffering unboundedly. A dropped subscriber must resubscribe
// and resync from persistence.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/metrics"
)

// Event types pushed to subscribers.
const (
	EventQR           = "qr"
	EventReady        = "ready"
	EventMessage      = "message"
	EventDisconnected = "disconnected"
	EventError        = "error"
)

// Event is one fan-out payload.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Subscription is a live fan-out endpoint. C is closed when the subscriber
// is unsubscribed or dropped for falling behind.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Event

	ch chan Event
}

// Bus broadcasts events to all current subscribers.
type Bus struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]*Subscription
	queueSize int
	closed    bool
}

// New creates a bus whose subscribers each get a queue of queueSize events.
func New(queueSize int) *Bus {
	return &Bus{
		subs:      make(map[uuid.UUID]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe registers a new live subscriber.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, b.queueSize)
	sub := &Subscription{
		ID: uuid.New(),
		C:  ch,
		ch: ch,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub
	count := len(b.subs)
	b.mu.Unlock()

	metrics.Subscribers.Set(float64(count))
	logging.Debug().Int("subscribers", count).Msg("fanout subscriber registered")
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(sub.ch)
	}
	count := len(b.subs)
	b.mu.Unlock()

	if ok {
		metrics.Subscribers.Set(float64(count))
		logging.Debug().Int("subscribers", count).Msg("fanout subscriber unregistered")
	}
}

// Publish delivers an event to every subscriber without blocking. A
// subscriber with a full queue is dropped so it can never apply
// backpressure to ingestion.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	var dropped []*Subscription
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(b.subs, id)
			dropped = append(dropped, sub)
		}
	}
	count := len(b.subs)
	b.mu.Unlock()

	for _, sub := range dropped {
		close(sub.ch)
	}

	metrics.FanoutEvents.WithLabelValues(ev.Type).Inc()
	if len(dropped) > 0 {
		metrics.Subscribers.Set(float64(count))
		metrics.SubscribersDropped.Add(float64(len(dropped)))
		logging.Warn().
			Int("dropped", len(dropped)).
			Str("event_type", ev.Type).
			Msg("dropped slow fanout subscribers")
	}
}

// Broadcast is a convenience wrapper used by the session controller.
func (b *Bus) Broadcast(eventType string, payload interface{}) {
	b.Publish(Event{Type: eventType, Payload: payload})
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops all subscribers and rejects new ones.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uuid.UUID]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
	metrics.Subscribers.Set(0)
}
