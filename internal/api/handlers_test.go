// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/outbound"
	"github.com/parley-chat/parley/internal/session"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/internal/transport"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type apiHarness struct {
	router http.Handler
	ctrl   *session.Controller
	drv    *transport.FakeDriver
	store  *store.Store
}

// nopSink discards inbound messages; API tests do not exercise ingestion.
type nopSink struct{}

func (nopSink) Submit(transport.Message) {}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	b := bus.New(16)
	t.Cleanup(b.Close)

	drv := transport.NewFakeDriver()
	ctrl, err := session.NewController(session.Config{
		DataDir:     t.TempDir(),
		InitTimeout: 30 * time.Second,
	}, func() transport.Driver { return drv }, nopSink{}, b)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	dispatcher := outbound.New(outbound.Config{
		DefaultCountryCode:  "1",
		TargetRatePerSecond: 1000,
		TargetBurst:         100,
	}, ctrl)

	srv := NewServer(config.ServerConfig{
		Host:        "127.0.0.1",
		Port:        8477,
		Timeout:     5 * time.Second,
		CORSOrigins: []string{"*"},
	}, ctrl, dispatcher, st, b)

	return &apiHarness{router: srv.Router(), ctrl: ctrl, drv: drv, store: st}
}

func (h *apiHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) driveToReady(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	h.drv.Emit(transport.Event{Type: transport.EventPairingChallenge, Challenge: "code"})
	h.drv.Emit(transport.Event{Type: transport.EventAuthenticated})
	h.drv.Emit(transport.Event{Type: transport.EventReady, AccountID: "me@c.us"})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.ctrl.GetStatus().State == session.StateReady {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never ready: %+v", h.ctrl.GetStatus())
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status session.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.State != session.StateUninitialized {
		t.Errorf("state = %q, want uninitialized", status.State)
	}
}

func TestQRNotPending(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/qr", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestQRPending(t *testing.T) {
	h := newAPIHarness(t)
	if err := h.ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	h.drv.Emit(transport.Event{Type: transport.EventPairingChallenge, Challenge: "code"})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.ctrl.GetStatus().HasPendingChallenge {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := h.do(t, http.MethodGet, "/api/v1/qr", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["qr"] == "" {
		t.Error("expected qr code in body")
	}
}

func TestInitializeEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/session/initialize", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}

	// A second initialize while one is in flight conflicts.
	rec = h.do(t, http.MethodPost, "/api/v1/session/initialize", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestSendTextNotReady(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/send/text", `{"target":"5551234567","text":"hi"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if n := len(h.drv.TextSends()); n != 0 {
		t.Errorf("driver saw %d sends, want 0", n)
	}
}

func TestSendTextReady(t *testing.T) {
	h := newAPIHarness(t)
	h.driveToReady(t)

	rec := h.do(t, http.MethodPost, "/api/v1/send/text", `{"target":"5551234567","text":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var res outbound.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.TransportMessageID == "" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestSendTextValidation(t *testing.T) {
	h := newAPIHarness(t)
	h.driveToReady(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing target", `{"text":"hi"}`, http.StatusBadRequest},
		{"missing text", `{"target":"5551234567"}`, http.StatusBadRequest},
		{"malformed json", `{`, http.StatusBadRequest},
		{"invalid target", `{"target":"garbage","text":"hi"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/v1/send/text", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestConversationsEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	if err := h.store.UpsertConversation(store.Conversation{
		ID: "conv-1", LastMessageID: "m1", LastBody: "hi", LastTimestampMs: 1,
	}); err != nil {
		t.Fatalf("UpsertConversation: %v", err)
	}

	rec := h.do(t, http.MethodGet, "/api/v1/conversations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Conversations []store.Conversation `json:"conversations"`
		Count         int                  `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.Conversations) != 1 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestDisconnectUninitialized(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/session/disconnect", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if got := h.ctrl.GetStatus().State; got != session.StateUninitialized {
		t.Errorf("state = %q, want uninitialized", got)
	}
}

func TestDisconnectAndReset(t *testing.T) {
	h := newAPIHarness(t)
	h.driveToReady(t)

	rec := h.do(t, http.MethodPost, "/api/v1/session/disconnect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d, want 200", rec.Code)
	}
	if got := h.ctrl.GetStatus().State; got != session.StateDisconnected {
		t.Errorf("state = %q, want disconnected", got)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/session/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", rec.Code)
	}
	if got := h.ctrl.GetStatus().State; got != session.StateDestroyed {
		t.Errorf("state = %q, want destroyed", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
