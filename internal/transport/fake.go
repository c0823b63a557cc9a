// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package transport

import (
	"context"
	"sync"
)

// FakeDriver is a deterministic, scriptable Driver for tests. Lifecycle
// events are emitted by the test via Emit; sends and fetches are recorded
// and can be forced to fail.
type FakeDriver struct {
	mu sync.Mutex

	events    chan Event
	destroyed bool

	// ConnectErr is returned by Connect when set.
	ConnectErr error
	// FetchErr is returned by FetchMedia when set.
	FetchErr error
	// SendErr is returned by SendText and SendMedia when set.
	SendErr error

	// FetchPayload and FetchMime are returned by successful FetchMedia calls.
	FetchPayload []byte
	FetchMime    string

	connectCalls int
	fetchCalls   int
	textSends    []FakeSend
	mediaSends   []FakeSend
}

// FakeSend records one outbound call to the fake driver.
type FakeSend struct {
	Target   string
	Text     string
	Data     []byte
	MimeType string
	Opts     SendOptions
}

// NewFakeDriver creates a fake driver with a buffered event channel.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		events: make(chan Event, 64),
	}
}

// Connect implements Driver.
func (f *FakeDriver) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.ConnectErr
}

// Events implements Driver.
func (f *FakeDriver) Events() <-chan Event {
	return f.events
}

// FetchMedia implements Driver.
func (f *FakeDriver) FetchMedia(_ context.Context, _ string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.FetchErr != nil {
		return nil, "", f.FetchErr
	}
	return f.FetchPayload, f.FetchMime, nil
}

// SendText implements Driver.
func (f *FakeDriver) SendText(_ context.Context, target, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.textSends = append(f.textSends, FakeSend{Target: target, Text: text})
	return "fake-text-id", nil
}

// SendMedia implements Driver.
func (f *FakeDriver) SendMedia(_ context.Context, target string, data []byte, mimeType string, opts SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.mediaSends = append(f.mediaSends, FakeSend{Target: target, Data: data, MimeType: mimeType, Opts: opts})
	return "fake-media-id", nil
}

// Destroy implements Driver. Safe to call more than once.
func (f *FakeDriver) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.destroyed {
		f.destroyed = true
		close(f.events)
	}
	return nil
}

// Emit injects an event as if the transport produced it. Events emitted
// after Destroy are silently dropped, like a torn-down transport's would be.
func (f *FakeDriver) Emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return
	}
	f.events <- ev
}

// ConnectCalls returns how many times Connect was invoked.
func (f *FakeDriver) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// FetchCalls returns how many times FetchMedia was invoked.
func (f *FakeDriver) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// TextSends returns recorded SendText calls.
func (f *FakeDriver) TextSends() []FakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeSend(nil), f.textSends...)
}

// MediaSends returns recorded SendMedia calls.
func (f *FakeDriver) MediaSends() []FakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeSend(nil), f.mediaSends...)
}

// Destroyed reports whether Destroy was called.
func (f *FakeDriver) Destroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}
