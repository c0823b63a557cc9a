// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/logging"
)

// BridgeConfig holds the sidecar connection settings.
type BridgeConfig struct {
	// SidecarURL is the browser-automation sidecar's WebSocket control
	// endpoint.
	SidecarURL string

	// DialTimeout bounds the dial on Connect.
	DialTimeout time.Duration

	// CallTimeout bounds one command round-trip (default 60s).
	CallTimeout time.Duration
}

// Bridge implements Driver against the browser-automation sidecar process
// over a single WebSocket control connection. Lifecycle events stream in;
// commands (send, fetch) are correlated request/response pairs.
//
// A Bridge is single-shot: once Destroy has run it cannot be reconnected.
// The session controller creates a fresh Bridge per initialization attempt.
type Bridge struct {
	cfg    BridgeConfig
	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan bridgeFrame

	closeOnce sync.Once
}

// bridgeFrame is the wire format in both directions. Kind is "event" for
// sidecar-initiated frames, "cmd" for gateway commands and "resp" for the
// sidecar's replies (correlated by ID).
type bridgeFrame struct {
	Kind   string          `json:"kind"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  string          `json:"error,omitempty"`

	// Event fields.
	Event       string        `json:"event,omitempty"`
	Challenge   string        `json:"challenge,omitempty"`
	AccountID   string        `json:"account_id,omitempty"`
	AccountName string        `json:"account_name,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Message     *frameMessage `json:"message,omitempty"`

	// Response payload fields.
	MessageID string `json:"message_id,omitempty"`
	Data      string `json:"data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

// frameMessage is the sidecar's inbound message shape.
type frameMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name,omitempty"`
	Body           string `json:"body,omitempty"`
	TimestampMs    int64  `json:"timestamp_ms"`
	FromMe         bool   `json:"from_me,omitempty"`
	Type           string `json:"type"`
	HasMedia       bool   `json:"has_media,omitempty"`
	MediaRef       string `json:"media_ref,omitempty"`
	MimeType       string `json:"mime_type,omitempty"`
}

// NewBridge creates a disconnected bridge. Call Connect to dial.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	return &Bridge{
		cfg:     cfg,
		events:  make(chan Event, 64),
		pending: make(map[string]chan bridgeFrame),
	}
}

// Connect dials the sidecar and starts the read loop. The sidecar begins
// its own client startup on connect; progress arrives as events.
func (b *Bridge) Connect(ctx context.Context) error {
	dialCtx := ctx
	if b.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, b.cfg.DialTimeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, b.cfg.SidecarURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial sidecar %s: %v", ErrUnavailable, b.cfg.SidecarURL, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	go b.readLoop(conn)
	return nil
}

// Events returns the event stream. Closed by Destroy or on read failure.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// readLoop decodes sidecar frames until the connection dies.
func (b *Bridge) readLoop(conn *websocket.Conn) {
	defer b.closeEvents()

	for {
		var frame bridgeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			b.failPending(err)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.emit(Event{Type: EventDisconnected, Reason: err.Error()})
			}
			return
		}

		switch frame.Kind {
		case "event":
			b.emit(decodeEvent(frame))
		case "resp":
			b.deliver(frame)
		default:
			logging.Warn().Str("kind", frame.Kind).Msg("unknown sidecar frame kind")
		}
	}
}

// decodeEvent maps a sidecar event frame onto the driver event model.
func decodeEvent(frame bridgeFrame) Event {
	ev := Event{
		Type:        EventType(frame.Event),
		Challenge:   frame.Challenge,
		AccountID:   frame.AccountID,
		AccountName: frame.AccountName,
		Reason:      frame.Reason,
	}
	if frame.Message != nil {
		ev.Message = &Message{
			ID:             frame.Message.ID,
			ConversationID: frame.Message.ConversationID,
			SenderID:       frame.Message.SenderID,
			SenderName:     frame.Message.SenderName,
			Body:           frame.Message.Body,
			TimestampMs:    frame.Message.TimestampMs,
			FromMe:         frame.Message.FromMe,
			Type:           MessageType(frame.Message.Type),
			HasMedia:       frame.Message.HasMedia,
			MediaRef:       frame.Message.MediaRef,
			MimeType:       frame.Message.MimeType,
		}
	}
	return ev
}

// emit delivers an event without ever blocking the read loop. The channel
// is sized for bursts; a full channel means the controller pump is gone.
func (b *Bridge) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		logging.Warn().Str("event_type", string(ev.Type)).Msg("dropping transport event: pump not draining")
	}
}

// call sends one command frame and waits for its correlated response.
func (b *Bridge) call(ctx context.Context, method string, params interface{}) (bridgeFrame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return bridgeFrame{}, fmt.Errorf("marshal %s params: %w", method, err)
	}

	id := uuid.NewString()
	ch := make(chan bridgeFrame, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return bridgeFrame{}, ErrUnavailable
	}
	b.pending[id] = ch
	err = conn.WriteJSON(bridgeFrame{Kind: "cmd", ID: id, Method: method, Params: raw})
	b.mu.Unlock()

	if err != nil {
		b.unregister(id)
		return bridgeFrame{}, fmt.Errorf("%w: write %s: %v", ErrUnavailable, method, err)
	}

	timer := time.NewTimer(b.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return bridgeFrame{}, ErrUnavailable
		}
		if resp.Error != "" {
			return bridgeFrame{}, errors.New(resp.Error)
		}
		return resp, nil
	case <-timer.C:
		b.unregister(id)
		return bridgeFrame{}, fmt.Errorf("%s: sidecar response timeout after %s", method, b.cfg.CallTimeout)
	case <-ctx.Done():
		b.unregister(id)
		return bridgeFrame{}, ctx.Err()
	}
}

// deliver routes a response frame to its waiting caller.
func (b *Bridge) deliver(frame bridgeFrame) {
	b.mu.Lock()
	ch, ok := b.pending[frame.ID]
	delete(b.pending, frame.ID)
	b.mu.Unlock()

	if ok {
		ch <- frame
	}
}

// failPending closes all in-flight calls when the connection dies.
func (b *Bridge) failPending(err error) {
	b.mu.Lock()
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.mu.Unlock()
	logging.Debug().Err(err).Msg("sidecar connection closed")
}

func (b *Bridge) unregister(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// FetchMedia downloads the attachment behind ref. The sidecar returns the
// payload base64-encoded alongside its declared MIME type.
func (b *Bridge) FetchMedia(ctx context.Context, ref string) ([]byte, string, error) {
	resp, err := b.call(ctx, "fetch_media", map[string]string{"ref": ref})
	if err != nil {
		return nil, "", err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return nil, "", fmt.Errorf("decode media payload: %w", err)
	}
	return data, resp.MimeType, nil
}

// SendText sends a text message.
func (b *Bridge) SendText(ctx context.Context, target, text string) (string, error) {
	resp, err := b.call(ctx, "send_text", map[string]string{
		"target": target,
		"text":   text,
	})
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// SendMedia sends an attachment.
func (b *Bridge) SendMedia(ctx context.Context, target string, data []byte, mimeType string, opts SendOptions) (string, error) {
	resp, err := b.call(ctx, "send_media", map[string]interface{}{
		"target":     target,
		"data":       base64.StdEncoding.EncodeToString(data),
		"mime_type":  mimeType,
		"voice_note": opts.VoiceNote,
		"caption":    opts.Caption,
	})
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// Destroy tears the sidecar client down and closes the event channel. The
// destroy command is best-effort; the connection close is what matters.
func (b *Bridge) Destroy() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn != nil {
		destroyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _ = b.callOnConn(destroyCtx, conn, "destroy")
		cancel()
		_ = conn.Close()
	}
	b.closeEvents()
	return nil
}

// callOnConn issues the destroy command directly; Destroy has already
// detached conn so call() would refuse it.
func (b *Bridge) callOnConn(ctx context.Context, conn *websocket.Conn, method string) (bridgeFrame, error) {
	id := uuid.NewString()
	ch := make(chan bridgeFrame, 1)

	b.mu.Lock()
	b.pending[id] = ch
	err := conn.WriteJSON(bridgeFrame{Kind: "cmd", ID: id, Method: method})
	b.mu.Unlock()

	if err != nil {
		b.unregister(id)
		return bridgeFrame{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return bridgeFrame{}, ErrUnavailable
		}
		return resp, nil
	case <-ctx.Done():
		b.unregister(id)
		return bridgeFrame{}, ctx.Err()
	}
}

func (b *Bridge) closeEvents() {
	b.closeOnce.Do(func() {
		close(b.events)
	})
}
