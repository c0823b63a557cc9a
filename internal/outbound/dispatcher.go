// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package outbound serializes send requests against the single session.
//
// Sends fail fast when the session is not ready: a silently queued message
// against a dead session is worse than an explicit user-visible failure.
// Sends to one target are strictly ordered (the transport requires ordering
// within a conversation); independent targets dispatch concurrently.
// Failed sends are never retried automatically — a duplicate send is worse
// than a visible failure requiring user confirmation.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/transport"
)

// ErrNotReady is returned synchronously when a send is attempted while the
// session is not Ready. No transport call is made.
var ErrNotReady = errors.New("session not ready")

// ErrSendFailed wraps a transport-level outbound rejection. The transport's
// reason is preserved for the caller; the send is not retried.
var ErrSendFailed = errors.New("send failed")

// ErrPathNotAllowed is returned when a file or voice payload path falls
// outside the configured send root. No file is read.
var ErrPathNotAllowed = errors.New("payload path outside send root")

// voiceNoteMime is the container MIME used for outbound voice notes.
const voiceNoteMime = "audio/ogg; codecs=opus"

// Kind is the outbound payload kind.
type Kind string

const (
	KindText  Kind = "text"
	KindFile  Kind = "file"
	KindVoice Kind = "voice"
)

// Result reports the outcome of one dispatch.
type Result struct {
	Success            bool      `json:"success"`
	TransportMessageID string    `json:"transport_message_id,omitempty"`
	FailureReason      string    `json:"failure_reason,omitempty"`
	RequestedAt        time.Time `json:"requested_at"`
}

// SessionGate exposes the active driver only while the session is Ready.
// Satisfied by the session controller.
type SessionGate interface {
	DriverIfReady() (transport.Driver, bool)
}

// Config holds dispatch settings.
type Config struct {
	// DefaultCountryCode is applied to targets without a country prefix.
	DefaultCountryCode string

	// TargetRatePerSecond and TargetBurst bound sends per target.
	TargetRatePerSecond float64
	TargetBurst         int

	// SendRoot confines file and voice payload paths to one directory
	// tree, so a send request cannot read arbitrary gateway files. Empty
	// disables the check.
	SendRoot string
}

// Dispatcher serializes outbound sends per target.
type Dispatcher struct {
	cfg  Config
	gate SessionGate

	mu      sync.Mutex
	targets map[string]*targetState
}

// targetState holds the per-target ordering lock and rate limiter.
type targetState struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// New creates a dispatcher consulting gate before every send.
func New(cfg Config, gate SessionGate) *Dispatcher {
	if cfg.TargetRatePerSecond <= 0 {
		cfg.TargetRatePerSecond = 1
	}
	if cfg.TargetBurst <= 0 {
		cfg.TargetBurst = 1
	}
	return &Dispatcher{
		cfg:     cfg,
		gate:    gate,
		targets: make(map[string]*targetState),
	}
}

// SendText dispatches a text message.
func (d *Dispatcher) SendText(ctx context.Context, target, text string) (*Result, error) {
	return d.dispatch(ctx, KindText, target, func(ctx context.Context, drv transport.Driver, addr string) (string, error) {
		return drv.SendText(ctx, addr, text)
	})
}

// SendFile dispatches a file attachment read from path, with an optional
// caption.
func (d *Dispatcher) SendFile(ctx context.Context, target, path, caption string) (*Result, error) {
	data, mimeType, err := d.readPayload(path)
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, KindFile, target, func(ctx context.Context, drv transport.Driver, addr string) (string, error) {
		return drv.SendMedia(ctx, addr, data, mimeType, transport.SendOptions{Caption: caption})
	})
}

// SendVoice dispatches an audio file rendered as a voice note. The voice
// flag mirrors the inbound voice/audio classification: what was ingested
// as a voice note must replay as one.
func (d *Dispatcher) SendVoice(ctx context.Context, target, path string) (*Result, error) {
	data, _, err := d.readPayload(path)
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, KindVoice, target, func(ctx context.Context, drv transport.Driver, addr string) (string, error) {
		return drv.SendMedia(ctx, addr, data, voiceNoteMime, transport.SendOptions{VoiceNote: true})
	})
}

// dispatch runs the shared send path: readiness gate, address
// normalization, per-target ordering and rate limit, then the transport
// call.
func (d *Dispatcher) dispatch(
	ctx context.Context,
	kind Kind,
	target string,
	send func(ctx context.Context, drv transport.Driver, addr string) (string, error),
) (*Result, error) {
	requestedAt := time.Now()

	drv, ready := d.gate.DriverIfReady()
	if !ready {
		metrics.OutboundSends.WithLabelValues(string(kind), "not_ready").Inc()
		return nil, ErrNotReady
	}

	addr, err := NormalizeTarget(target, d.cfg.DefaultCountryCode)
	if err != nil {
		metrics.OutboundSends.WithLabelValues(string(kind), "invalid_target").Inc()
		return nil, err
	}

	ts := d.target(addr)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if err := ts.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	// Re-check after waiting: the session may have dropped meanwhile.
	if current, ready := d.gate.DriverIfReady(); !ready || current != drv {
		metrics.OutboundSends.WithLabelValues(string(kind), "not_ready").Inc()
		return nil, ErrNotReady
	}

	id, err := send(ctx, drv, addr)
	if err != nil {
		metrics.OutboundSends.WithLabelValues(string(kind), "failed").Inc()
		logging.Warn().
			Err(err).
			Str("kind", string(kind)).
			Str("target", addr).
			Msg("outbound send rejected by transport")
		return &Result{
			Success:       false,
			FailureReason: err.Error(),
			RequestedAt:   requestedAt,
		}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	metrics.OutboundSends.WithLabelValues(string(kind), "ok").Inc()
	return &Result{
		Success:            true,
		TransportMessageID: id,
		RequestedAt:        requestedAt,
	}, nil
}

// target returns (creating if needed) the per-target state.
func (d *Dispatcher) target(addr string) *targetState {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts, ok := d.targets[addr]
	if !ok {
		ts = &targetState{
			limiter: rate.NewLimiter(rate.Limit(d.cfg.TargetRatePerSecond), d.cfg.TargetBurst),
		}
		d.targets[addr] = ts
	}
	return ts
}

// readPayload loads a file and derives its MIME type from the extension.
// The path is checked against SendRoot before any read.
func (d *Dispatcher) readPayload(path string) ([]byte, string, error) {
	if err := d.checkPath(path); err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read payload %s: %w", path, err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}

// checkPath rejects payload paths that resolve outside the send root.
// Traversal segments are resolved by Abs before the prefix check.
func (d *Dispatcher) checkPath(path string) error {
	if d.cfg.SendRoot == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathNotAllowed, err)
	}
	root := filepath.Clean(d.cfg.SendRoot)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrPathNotAllowed, path)
	}
	return nil
}
