// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package ingest

import (
	"errors"
	"fmt"

	"github.com/parley-chat/parley/internal/media"
	"github.com/parley-chat/parley/internal/transport"
)

// ErrMediaFetchFailed marks a per-message media download failure. The
// message is still delivered without media; the error is annotated on it.
var ErrMediaFetchFailed = errors.New("media fetch failed")

// InboundMessage is the canonical normalized record for one inbound
// message. Immutable once published.
//
// Invariant: when DeclaredType is not text, either Media is populated or
// MediaError records why it is not.
type InboundMessage struct {
	ID                string                `json:"id"`
	ConversationID    string                `json:"conversation_id"`
	SenderID          string                `json:"sender_id"`
	SenderDisplayName string                `json:"sender_display_name"`
	Body              string                `json:"body"`
	TimestampMs       int64                 `json:"timestamp_ms"`
	IsOutgoingEcho    bool                  `json:"is_outgoing_echo"`
	DeclaredType      transport.MessageType `json:"declared_type"`
	Media             *media.Descriptor     `json:"media,omitempty"`
	MediaError        string                `json:"media_error,omitempty"`
}

// Validate checks the media invariant before publication.
func (m *InboundMessage) Validate() error {
	if m.ID == "" {
		return errors.New("message id is empty")
	}
	if m.DeclaredType != transport.MessageText && m.Media == nil && m.MediaError == "" {
		return fmt.Errorf("non-text message %s has neither media nor a recorded media error", m.ID)
	}
	return nil
}
