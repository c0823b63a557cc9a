// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package bus

import (
	"io"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New(4)
	defer b.Close()

	subs := []*Subscription{b.Subscribe(), b.Subscribe(), b.Subscribe()}
	b.Publish(Event{Type: EventMessage, Payload: "hello"})

	for i, sub := range subs {
		select {
		case ev := <-sub.C:
			if ev.Type != EventMessage {
				t.Errorf("subscriber %d got type %q, want %q", i, ev.Type, EventMessage)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestOverflowingSubscriberDropped(t *testing.T) {
	b := New(1)
	defer b.Close()

	slow := b.Subscribe()
	healthy := b.Subscribe()

	// First event fills slow's queue; healthy drains its copy.
	b.Publish(Event{Type: EventMessage, Payload: 1})
	select {
	case <-healthy.C:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber missed the first event")
	}

	// Second event overflows slow, which is dropped.
	b.Publish(Event{Type: EventMessage, Payload: 2})

	if got := b.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount = %d, want 1 after drop", got)
	}

	// The dropped subscriber's channel must be closed after draining.
	<-slow.C
	if _, ok := <-slow.C; ok {
		t.Error("expected slow subscriber channel to be closed")
	}

	// The healthy subscriber is unaffected and keeps receiving.
	select {
	case <-healthy.C:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber missed the second event")
	}
	b.Publish(Event{Type: EventReady, Payload: nil})
	select {
	case ev := <-healthy.C:
		if ev.Type != EventReady {
			t.Errorf("got %q, want %q", ev.Type, EventReady)
		}
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber missed event after drop")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New(1)
	defer b.Close()

	b.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: EventMessage, Payload: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stuck subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4)
	defer b.Close()

	sub := b.Subscribe()
	b.Unsubscribe(sub.ID)

	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}

	// Unsubscribing twice is a no-op.
	b.Unsubscribe(sub.ID)
}

func TestSubscribeAfterClose(t *testing.T) {
	b := New(4)
	b.Close()

	sub := b.Subscribe()
	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel from a closed bus")
	}
}
