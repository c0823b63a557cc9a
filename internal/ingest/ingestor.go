// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package ingest normalizes the raw transport event stream into canonical
// inbound message records and hands them to the persistence collaborator
// and the fan-out bus through a Watermill pipeline.
//
// Distinct messages are processed concurrently (bounded by a worker
// semaphore); the media fetch for a single message is awaited before that
// message counts as ingested, but never serializes independent messages.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/media"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/transport"
)

// TopicInbound carries normalized inbound messages. Both the persistence
// handler and the fan-out handler subscribe to it.
const TopicInbound = "messages.inbound"

// Fetcher downloads attachment bytes for a message. Satisfied by the
// session controller, which delegates to the active transport driver.
type Fetcher interface {
	FetchMedia(ctx context.Context, ref string) ([]byte, string, error)
}

// Config holds pipeline settings.
type Config struct {
	// Workers bounds concurrent message normalization.
	Workers int

	// FetchTimeout bounds one media download.
	FetchTimeout time.Duration

	// BreakerMaxFailures consecutive fetch failures open the breaker.
	BreakerMaxFailures uint32

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration
}

type fetchResult struct {
	data []byte
	mime string
}

// Ingestor is the inbound normalization pipeline.
type Ingestor struct {
	cfg     Config
	fetcher Fetcher
	store   *media.Store
	pub     message.Publisher
	breaker *gobreaker.CircuitBreaker[fetchResult]
	sem     chan struct{}
}

// New creates an ingestor publishing to pub.
func New(cfg Config, fetcher Fetcher, mediaStore *media.Store, pub message.Publisher) *Ingestor {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}

	breaker := gobreaker.NewCircuitBreaker[fetchResult](gobreaker.Settings{
		Name:    "media-fetch",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
	})

	return &Ingestor{
		cfg:     cfg,
		fetcher: fetcher,
		store:   mediaStore,
		pub:     pub,
		breaker: breaker,
		sem:     make(chan struct{}, cfg.Workers),
	}
}

// Submit accepts a raw transport message for ingestion. It returns
// immediately: the worker slot is acquired on the spawned goroutine, so a
// saturated pool queues the message without ever blocking the caller. The
// session event pump calls Submit and must never stall behind a download.
func (i *Ingestor) Submit(raw transport.Message) {
	go func() {
		i.sem <- struct{}{}
		defer func() { <-i.sem }()
		i.ingest(raw)
	}()
}

// ingest runs the normalization pipeline for one message. Media failures
// are annotated, never fatal: the text and metadata are independently
// valuable, and the pipeline must stay live for the next event.
func (i *Ingestor) ingest(raw transport.Message) {
	msg := InboundMessage{
		ID:                raw.ID,
		ConversationID:    raw.ConversationID,
		SenderID:          raw.SenderID,
		SenderDisplayName: raw.SenderName,
		Body:              raw.Body,
		TimestampMs:       raw.TimestampMs,
		IsOutgoingEcho:    raw.FromMe,
		DeclaredType:      raw.Type,
	}

	// Missing sender metadata is recoverable.
	if msg.SenderDisplayName == "" {
		msg.SenderDisplayName = raw.SenderID
	}
	if msg.DeclaredType == "" {
		msg.DeclaredType = transport.MessageOther
	}

	if raw.HasMedia {
		i.attachMedia(raw, &msg)
	} else if msg.DeclaredType != transport.MessageText && msg.Media == nil {
		msg.MediaError = "transport delivered no attachment for non-text message"
	}

	if err := i.publish(&msg); err != nil {
		logging.Error().Err(err).Str("message_id", msg.ID).Msg("failed to publish inbound message")
		return
	}

	metrics.InboundMessages.WithLabelValues(string(msg.DeclaredType)).Inc()
}

// attachMedia fetches, classifies and persists the attachment, annotating
// the message on any failure.
func (i *Ingestor) attachMedia(raw transport.Message, msg *InboundMessage) {
	res, err := i.breaker.Execute(func() (fetchResult, error) {
		ctx, cancel := context.WithTimeout(context.Background(), i.cfg.FetchTimeout)
		defer cancel()
		data, mime, err := i.fetcher.FetchMedia(ctx, raw.MediaRef)
		if err != nil {
			return fetchResult{}, err
		}
		return fetchResult{data: data, mime: mime}, nil
	})
	if err != nil {
		msg.MediaError = fmt.Errorf("%w: %v", ErrMediaFetchFailed, err).Error()
		metrics.MediaErrors.WithLabelValues("fetch").Inc()
		logging.Warn().
			Err(err).
			Str("message_id", raw.ID).
			Msg("media fetch failed, delivering message without media")
		return
	}

	mime := res.mime
	if mime == "" {
		mime = raw.MimeType
	}

	desc, err := i.store.Store(res.data, mime, raw.Type, raw.ID)
	if err != nil {
		msg.MediaError = err.Error()
		metrics.MediaErrors.WithLabelValues("write").Inc()
		logging.Warn().
			Err(err).
			Str("message_id", raw.ID).
			Msg("media write failed, delivering message without media")
		return
	}

	msg.Media = desc
	metrics.MediaStoredBytes.Add(float64(desc.SizeBytes))
}

// publish emits the finished record exactly once to the inbound topic.
// Deduplication of transport redeliveries belongs to the persistence
// collaborator: the ingestor has no durable memory of past ids.
func (i *Ingestor) publish(msg *InboundMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("validate message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	wm := message.NewMessage(msg.ID, payload)
	if err := i.pub.Publish(TopicInbound, wm); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}
