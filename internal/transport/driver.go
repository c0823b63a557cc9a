// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package transport defines the boundary to the browser-automated messaging
// transport. The real driver is an external, stateful, non-reentrant
// dependency; everything above it talks to this narrow interface so the
// session state machine and the ingestion pipeline can be driven by a
// scripted fake in tests.
package transport

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the driver fails to start or the
// underlying transport process is gone. Fatal to the current attempt.
var ErrUnavailable = errors.New("transport unavailable")

// EventType identifies a lifecycle or message event emitted by the driver.
type EventType string

const (
	EventPairingChallenge EventType = "pairing-challenge"
	EventAuthenticated    EventType = "authenticated"
	EventAuthFailure      EventType = "auth-failure"
	EventReady            EventType = "ready"
	EventDisconnected     EventType = "disconnected"
	EventMessage          EventType = "message"
	EventError            EventType = "error"
)

// MessageType is the transport's own declared type for an inbound message.
// Voice is distinct from Audio: the transport flags voice notes at the
// message level, and MIME alone cannot recover that distinction.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageVoice    MessageType = "voice"
	MessageAudio    MessageType = "audio"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageOther    MessageType = "other"
)

// Message is the raw inbound message payload as the driver delivers it.
type Message struct {
	// ID is the transport-assigned identifier, globally unique per session.
	ID             string
	ConversationID string
	SenderID       string
	// SenderName may be empty; ingestion falls back to SenderID.
	SenderName  string
	Body        string
	TimestampMs int64
	// FromMe marks messages sent by this account from another device.
	FromMe bool
	Type   MessageType
	// HasMedia indicates an attachment; MediaRef is the opaque handle to
	// fetch it with FetchMedia. MimeType is the transport's declared MIME
	// and may mislabel voice-note containers.
	HasMedia bool
	MediaRef string
	MimeType string
}

// Event is a single lifecycle or message event from the driver.
type Event struct {
	Type EventType

	// Challenge carries the one-time pairing code for EventPairingChallenge.
	// It is single-use and expires on each regeneration; never persist it.
	Challenge string

	// AccountID and AccountName are set on EventReady.
	AccountID   string
	AccountName string

	// Reason is set on EventAuthFailure, EventDisconnected and EventError.
	Reason string

	// Message is set on EventMessage.
	Message *Message
}

// SendOptions control how an outbound media payload is rendered.
type SendOptions struct {
	// VoiceNote renders the attachment as a voice note (waveform player)
	// instead of a generic audio file. Mirrors the inbound voice/audio
	// distinction.
	VoiceNote bool

	// Caption is optional text attached to the media.
	Caption string
}

// Driver is the narrow capability set Parley requires from the transport.
//
// The driver is not reentrant-safe: Connect and Destroy must never run
// concurrently, and all calls are serialized by the SessionController.
type Driver interface {
	// Connect starts the transport. It returns once the transport process
	// is launched; lifecycle progress arrives asynchronously on Events.
	Connect(ctx context.Context) error

	// Events returns the event stream. The channel is closed by Destroy.
	Events() <-chan Event

	// FetchMedia downloads the attachment behind ref, returning the raw
	// bytes and the transport's declared MIME type.
	FetchMedia(ctx context.Context, ref string) ([]byte, string, error)

	// SendText sends a text message and returns the transport message id.
	SendText(ctx context.Context, target, text string) (string, error)

	// SendMedia sends an attachment and returns the transport message id.
	SendMedia(ctx context.Context, target string, data []byte, mimeType string, opts SendOptions) (string, error)

	// Destroy tears down the transport and closes the event channel.
	Destroy() error
}
