// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package session owns the connection lifecycle of the single external
// messaging account: the state machine, the initialization watchdog, the
// diagnostic step log, and the on-disk session artifact directory.
//
// All state transitions and all calls into the transport driver are
// serialized through the Controller; the driver is not reentrant-safe.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/transport"
)

// Broadcaster pushes lifecycle events to live subscribers. Satisfied by
// the event bus; decoupled here so the controller never blocks on fan-out.
type Broadcaster interface {
	Broadcast(eventType string, payload interface{})
}

// MessageSink receives raw inbound messages for normalization. Satisfied
// by the ingestion pipeline; Submit must not block the event loop.
type MessageSink interface {
	Submit(msg transport.Message)
}

// DriverFactory creates a fresh transport driver for one initialization
// attempt. The underlying browser-automation client cannot be reconnected
// after teardown, so each attempt gets its own instance.
type DriverFactory func() transport.Driver

// Config holds session lifecycle settings.
type Config struct {
	// DataDir is the root of the on-disk session artifacts.
	DataDir string

	// InitTimeout bounds one initialization attempt (watchdog).
	InitTimeout time.Duration

	// ClearOnInit wipes artifacts before every fresh Initialize. Off by
	// default: always wiping defeats persistent login. Artifacts are
	// always wiped on auth failure and explicit reset regardless.
	ClearOnInit bool
}

// Controller owns the Session. Nothing else mutates session state.
type Controller struct {
	cfg       Config
	factory   DriverFactory
	sink      MessageSink
	broadcast Broadcaster
	artifacts *artifacts

	sf singleflight.Group

	mu           sync.Mutex
	state        State
	sessionID    string
	accountID    string
	accountName  string
	challenge    string
	lastError    string
	hints        []string
	retryCount   int
	steps        []DiagnosticStep
	attemptStart time.Time
	driver       transport.Driver
	watchdog     *time.Timer
	watchdogGen  uint64
}

// NewController creates the controller in Uninitialized state and loads
// (or creates) the persisted session id.
func NewController(cfg Config, factory DriverFactory, sink MessageSink, broadcast Broadcaster) (*Controller, error) {
	art, err := newArtifacts(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	id, err := art.loadOrCreateID()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:          cfg,
		factory:      factory,
		sink:         sink,
		broadcast:    broadcast,
		artifacts:    art,
		state:        StateUninitialized,
		sessionID:    id,
		attemptStart: time.Now(),
	}
	metrics.SetSessionState("", string(StateUninitialized))
	return c, nil
}

// Initialize starts a connection attempt. Only legal from Uninitialized,
// Failed, Disconnected or Destroyed; anywhere else it returns
// ErrInvalidState without side effects. Concurrent calls are coalesced:
// callers racing into Initialize share one attempt and one result.
func (c *Controller) Initialize(ctx context.Context) error {
	_, err, _ := c.sf.Do("initialize", func() (interface{}, error) {
		return nil, c.initialize(ctx)
	})
	return err
}

func (c *Controller) initialize(ctx context.Context) error {
	c.mu.Lock()

	if !initializableFrom[c.state] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}

	prior := c.state
	if prior != StateUninitialized {
		c.retryCount++
	}

	// Stale credentials caused the failure; Failed→reinitialize always
	// starts from a clean directory. ClearOnInit extends that to every
	// attempt for operators who want the upstream always-wipe behavior.
	if c.cfg.ClearOnInit || prior == StateFailed {
		if err := c.artifacts.wipe(c.sessionID); err != nil {
			c.mu.Unlock()
			return err
		}
	}

	c.steps = nil
	c.attemptStart = time.Now()
	c.lastError = ""
	c.hints = nil
	c.challenge = ""
	c.accountID = ""
	c.accountName = ""

	// Replace any previous driver instance; its pump exits when the old
	// event channel closes.
	old := c.driver
	drv := c.factory()
	c.driver = drv

	c.setStateLocked(StateInitializing)
	c.recordStepLocked("initialize")
	c.startWatchdogLocked()
	c.mu.Unlock()

	if old != nil {
		_ = old.Destroy()
	}

	go c.pump(drv)

	if err := drv.Connect(ctx); err != nil {
		wrapped := fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
		c.fail(wrapped, nil, "connect-failed")
		return wrapped
	}

	return nil
}

// pump forwards one driver instance's events into the controller. Events
// from a superseded driver are dropped.
func (c *Controller) pump(drv transport.Driver) {
	for ev := range drv.Events() {
		c.handleEvent(drv, ev)
	}
}

// handleEvent applies one transport event to the state machine.
func (c *Controller) handleEvent(drv transport.Driver, ev transport.Event) {
	c.mu.Lock()
	if drv != c.driver {
		c.mu.Unlock()
		return
	}

	switch ev.Type {
	case transport.EventPairingChallenge:
		// The challenge is single-use and expires on each regeneration;
		// it lives in memory only and is never written to disk.
		c.challenge = ev.Challenge
		if c.state == StateInitializing {
			c.setStateLocked(StateAwaitingAuth)
		}
		c.recordStepLocked("pairing-challenge")
		c.mu.Unlock()
		c.broadcast.Broadcast("qr", map[string]string{
			"code": base64.StdEncoding.EncodeToString([]byte(ev.Challenge)),
		})

	case transport.EventAuthenticated:
		c.challenge = ""
		c.setStateLocked(StateAuthenticating)
		c.recordStepLocked("authenticated")
		c.mu.Unlock()

	case transport.EventReady:
		c.challenge = ""
		c.accountID = ev.AccountID
		c.accountName = ev.AccountName
		c.cancelWatchdogLocked()
		c.setStateLocked(StateReady)
		c.recordStepLocked("ready")
		status := c.statusLocked()
		c.mu.Unlock()
		logging.Info().
			Str("component", "session").
			Str("account_id", ev.AccountID).
			Msg("session ready")
		c.broadcast.Broadcast("ready", status)

	case transport.EventAuthFailure:
		c.mu.Unlock()
		c.authFailure(ev.Reason)

	case transport.EventDisconnected:
		// Remote-initiated. No automatic retry: reconnect storms against
		// a rate-limited remote are worse than waiting for the caller.
		c.cancelWatchdogLocked()
		c.lastError = ev.Reason
		c.setStateLocked(StateDisconnected)
		c.recordStepLocked("disconnected")
		c.mu.Unlock()
		logging.Warn().
			Str("component", "session").
			Str("reason", ev.Reason).
			Msg("transport disconnected")
		c.broadcast.Broadcast("disconnected", map[string]string{"reason": ev.Reason})

	case transport.EventMessage:
		c.mu.Unlock()
		if ev.Message != nil {
			c.sink.Submit(*ev.Message)
		}

	case transport.EventError:
		c.lastError = ev.Reason
		c.recordStepLocked("transport-error")
		c.mu.Unlock()
		logging.Error().
			Str("component", "session").
			Str("reason", ev.Reason).
			Msg("transport error")
		c.broadcast.Broadcast("error", map[string]string{"error": ev.Reason})

	default:
		c.mu.Unlock()
	}
}

// authFailure handles a credential rejection: wipe artifacts immediately so
// the stale credential cannot poison the next attempt, then fail.
func (c *Controller) authFailure(reason string) {
	c.mu.Lock()
	if err := c.artifacts.wipe(c.sessionID); err != nil {
		logging.Error().Err(err).Msg("failed to wipe session artifacts after auth rejection")
	}
	c.mu.Unlock()

	c.fail(fmt.Errorf("%w: %s", ErrAuthRejected, reason), authFailureHints, "auth-failure")
}

// fail moves the session to the absorbing Failed state with the full
// diagnostic trail attached.
func (c *Controller) fail(err error, hints []string, milestone string) {
	c.mu.Lock()
	status := c.failLocked(err, hints, milestone)
	c.mu.Unlock()

	c.reportFailed(err, status)
}

func (c *Controller) failLocked(err error, hints []string, milestone string) Status {
	c.cancelWatchdogLocked()
	c.lastError = err.Error()
	c.hints = hints
	c.setStateLocked(StateFailed)
	c.recordStepLocked(milestone)
	return c.statusLocked()
}

func (c *Controller) reportFailed(err error, status Status) {
	logging.Error().
		Str("component", "session").
		Err(err).
		Int("diagnostic_steps", len(status.Steps)).
		Msg("session failed")
	c.broadcast.Broadcast("error", status)
}

// startWatchdogLocked arms the initialization watchdog for this attempt.
// The generation counter makes a stale timer a no-op: the watchdog fires
// at most once per attempt and never after cancellation.
func (c *Controller) startWatchdogLocked() {
	c.watchdogGen++
	gen := c.watchdogGen
	c.watchdog = time.AfterFunc(c.cfg.InitTimeout, func() {
		c.watchdogFired(gen)
	})
}

// cancelWatchdogLocked disarms the watchdog. Must be called on reaching
// Ready or any terminal failure so a stale timeout cannot fire after success.
func (c *Controller) cancelWatchdogLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.watchdogGen++
}

// watchdogFired validates the generation and performs the Failed transition
// under one lock acquisition: a timer whose watchdog was canceled between
// firing and running here must stay a no-op, even when ready lands in that
// window.
func (c *Controller) watchdogFired(gen uint64) {
	err := fmt.Errorf("%w after %s", ErrInitTimeout, c.cfg.InitTimeout)

	c.mu.Lock()
	if gen != c.watchdogGen || c.state == StateReady || c.state == StateFailed {
		c.mu.Unlock()
		return
	}
	status := c.failLocked(err, timeoutHints, "watchdog-timeout")
	c.mu.Unlock()

	c.reportFailed(err, status)
}

// Disconnect tears the transport down on request. The session moves to
// Disconnected; artifacts are kept so a later Initialize can resume login.
// Only legal while an attempt or transport is live; anywhere else it
// returns ErrInvalidState without side effects.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if !disconnectableFrom[c.state] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	c.cancelWatchdogLocked()
	drv := c.driver
	c.driver = nil
	c.setStateLocked(StateDisconnected)
	c.recordStepLocked("disconnect-requested")
	c.mu.Unlock()

	if drv != nil {
		if err := drv.Destroy(); err != nil {
			return fmt.Errorf("destroy transport: %w", err)
		}
	}
	c.broadcast.Broadcast("disconnected", map[string]string{"reason": "disconnect requested"})
	return nil
}

// Reset destroys the session entirely: transport torn down, artifacts
// wiped, session id rotated. The next Initialize pairs from scratch.
func (c *Controller) Reset() error {
	c.mu.Lock()
	c.cancelWatchdogLocked()
	drv := c.driver
	c.driver = nil

	if err := c.artifacts.wipe(c.sessionID); err != nil {
		c.mu.Unlock()
		return err
	}
	id, err := c.artifacts.rotateID()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.sessionID = id
	c.accountID = ""
	c.accountName = ""
	c.challenge = ""
	c.setStateLocked(StateDestroyed)
	c.recordStepLocked("reset")
	c.mu.Unlock()

	if drv != nil {
		_ = drv.Destroy()
	}
	c.broadcast.Broadcast("disconnected", map[string]string{"reason": "session reset"})
	return nil
}

// Serve runs the controller as a supervised service: it blocks until the
// context is canceled, then tears down the transport.
func (c *Controller) Serve(ctx context.Context) error {
	<-ctx.Done()

	c.mu.Lock()
	drv := c.driver
	c.driver = nil
	c.mu.Unlock()

	if drv != nil {
		_ = drv.Destroy()
	}
	logging.Info().Str("component", "session").Msg("session controller stopped")
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (c *Controller) String() string {
	return "session-controller"
}

// GetStatus returns a snapshot of the session, including the ordered
// diagnostic step log. Available at any time, including mid-failure.
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	steps := make([]DiagnosticStep, len(c.steps))
	copy(steps, c.steps)
	hints := make([]string, len(c.hints))
	copy(hints, c.hints)

	return Status{
		State:               c.state,
		SessionID:           c.sessionID,
		AccountID:           c.accountID,
		AccountName:         c.accountName,
		HasPendingChallenge: c.challenge != "",
		LastError:           c.lastError,
		RetryCount:          c.retryCount,
		Steps:               steps,
		Hints:               hints,
	}
}

// Challenge returns the current pairing challenge rendered as base64, if
// one is pending.
func (c *Controller) Challenge() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.challenge == "" {
		return "", false
	}
	return base64.StdEncoding.EncodeToString([]byte(c.challenge)), true
}

// DriverIfReady returns the active driver when the session is Ready.
// The outbound dispatcher consults this before every send.
func (c *Controller) DriverIfReady() (transport.Driver, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.driver == nil {
		return nil, false
	}
	return c.driver, true
}

// FetchMedia downloads an attachment through the active driver.
func (c *Controller) FetchMedia(ctx context.Context, ref string) ([]byte, string, error) {
	c.mu.Lock()
	drv := c.driver
	c.mu.Unlock()

	if drv == nil {
		return nil, "", transport.ErrUnavailable
	}
	return drv.FetchMedia(ctx, ref)
}

// setStateLocked performs the transition bookkeeping: metrics gauge and a
// structured transition log.
func (c *Controller) setStateLocked(next State) {
	prev := c.state
	c.state = next
	metrics.SetSessionState(string(prev), string(next))
	logging.Debug().
		Str("component", "session").
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("session state transition")
}

// recordStepLocked appends a milestone with elapsed time since the attempt
// started.
func (c *Controller) recordStepLocked(milestone string) {
	now := time.Now()
	c.steps = append(c.steps, DiagnosticStep{
		Milestone: milestone,
		ElapsedMs: now.Sub(c.attemptStart).Milliseconds(),
		At:        now,
	})
}
