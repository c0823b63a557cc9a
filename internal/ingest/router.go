// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package ingest

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/store"
)

// NewPubSub creates the in-process pub/sub carrying normalized messages.
// Every subscriber of a topic receives every message, which is exactly the
// two-sink (persist + fan-out) shape the pipeline needs.
func NewPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, NewWatermillLogger())
}

// NewRouter builds the Watermill router that consumes the inbound topic
// with two handlers: an idempotent persistence upsert and the subscriber
// fan-out. Panics in handlers are recovered; handler errors are retried
// with the subscription's redelivery.
func NewRouter(sub message.Subscriber, st *store.Store, b *bus.Bus) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 30 * time.Second,
	}, NewWatermillLogger())
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)

	router.AddConsumerHandler(
		"persist-inbound",
		TopicInbound,
		sub,
		persistHandler(st),
	)

	router.AddConsumerHandler(
		"fanout-inbound",
		TopicInbound,
		sub,
		fanoutHandler(b),
	)

	return router, nil
}

// persistHandler upserts the message and folds it into its conversation
// summary. Upsert is idempotent by message id, so transport redeliveries
// collapse to one stored record here.
func persistHandler(st *store.Store) message.NoPublishHandlerFunc {
	return func(wm *message.Message) error {
		var msg InboundMessage
		if err := json.Unmarshal(wm.Payload, &msg); err != nil {
			// Poison payload; retrying cannot help.
			logging.Error().Err(err).Str("uuid", wm.UUID).Msg("dropping undecodable inbound payload")
			return nil
		}

		created, err := st.UpsertMessage(msg.ID, wm.Payload)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}

		return st.UpsertConversation(store.Conversation{
			ID:              msg.ConversationID,
			DisplayName:     msg.SenderDisplayName,
			LastMessageID:   msg.ID,
			LastBody:        msg.Body,
			LastTimestampMs: msg.TimestampMs,
		})
	}
}

// fanoutHandler pushes the message to live subscribers. The bus never
// blocks, so a slow WebSocket client cannot stall this handler.
func fanoutHandler(b *bus.Bus) message.NoPublishHandlerFunc {
	return func(wm *message.Message) error {
		var msg InboundMessage
		if err := json.Unmarshal(wm.Payload, &msg); err != nil {
			logging.Error().Err(err).Str("uuid", wm.UUID).Msg("dropping undecodable inbound payload")
			return nil
		}

		b.Publish(bus.Event{Type: bus.EventMessage, Payload: msg})
		return nil
	}
}

// watermillLogger adapts zerolog to watermill.LoggerAdapter.
type watermillLogger struct {
	fields watermill.LogFields
}

// NewWatermillLogger returns a watermill logger backed by the global
// zerolog logger.
func NewWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Info(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

func (l *watermillLogger) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
