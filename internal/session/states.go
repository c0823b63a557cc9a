// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package session

import (
	"errors"
	"time"
)

// State is the session lifecycle state. Transitions are driven only by
// transport events and the explicit Initialize/Disconnect/Reset calls;
// no other component mutates it.
type State string

const (
	StateUninitialized  State = "uninitialized"
	StateInitializing   State = "initializing"
	StateAwaitingAuth   State = "awaiting_auth"
	StateAuthenticating State = "authenticating"
	StateReady          State = "ready"
	StateDisconnected   State = "disconnected"
	StateDestroyed      State = "destroyed"
	StateFailed         State = "failed"
)

// ErrAuthRejected is returned when the transport rejects the pairing
// credentials. Session artifacts are wiped; the user must re-pair.
var ErrAuthRejected = errors.New("authentication rejected by transport")

// ErrInitTimeout is returned when the initialization watchdog fires before
// the transport reaches ready. The failure carries the full diagnostic trail.
var ErrInitTimeout = errors.New("initialization timed out")

// ErrInvalidState is returned when a lifecycle operation is called from a
// state that does not permit it (for example Initialize while already
// Ready). The call has no side effects.
var ErrInvalidState = errors.New("operation not permitted in current state")

// DiagnosticStep is one timestamped lifecycle milestone. The ordered step
// log is the only supported way to debug initialization hangs.
type DiagnosticStep struct {
	Milestone string    `json:"milestone"`
	ElapsedMs int64     `json:"elapsed_ms"`
	At        time.Time `json:"at"`
}

// Status is a point-in-time snapshot of the session, retrievable at any
// moment including mid-failure.
type Status struct {
	State               State            `json:"state"`
	SessionID           string           `json:"session_id"`
	AccountID           string           `json:"account_id,omitempty"`
	AccountName         string           `json:"account_name,omitempty"`
	HasPendingChallenge bool             `json:"has_pending_challenge"`
	LastError           string           `json:"last_error,omitempty"`
	RetryCount          int              `json:"retry_count"`
	Steps               []DiagnosticStep `json:"diagnostic_steps"`
	Hints               []string         `json:"hints,omitempty"`
}

// initializableFrom lists the states Initialize accepts. Uninitialized and
// Failed per the state machine; Disconnected and Destroyed because the
// reconnect decision after a remote disconnect or reset belongs to the
// caller, and that decision is expressed as a fresh Initialize.
var initializableFrom = map[State]bool{
	StateUninitialized: true,
	StateFailed:        true,
	StateDisconnected:  true,
	StateDestroyed:     true,
}

// disconnectableFrom lists the states Disconnect accepts: anything with a
// live attempt or transport to tear down. A never-initialized or already
// torn-down session has nothing to disconnect, and recording a step for it
// would pollute the diagnostic log.
var disconnectableFrom = map[State]bool{
	StateInitializing:   true,
	StateAwaitingAuth:   true,
	StateAuthenticating: true,
	StateReady:          true,
	StateFailed:         true,
}

// timeoutHints are the remediation hints attached to a watchdog failure,
// surfaced as structured metadata so callers can render them.
var timeoutHints = []string{
	"check that the transport browser process can start (memory, sandbox flags)",
	"inspect the diagnostic steps: no 'pairing-challenge' step means the transport never came up",
	"a 'pairing-challenge' step without 'authenticated' means the code was never scanned",
	"stale session artifacts are the dominant cause of hangs; reset the session to clear them",
}

// authFailureHints are attached to an authentication rejection.
var authFailureHints = []string{
	"session credentials were rejected; artifacts have been wiped",
	"re-initialize and pair the device again with a fresh code",
}
