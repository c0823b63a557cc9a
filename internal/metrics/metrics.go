// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package metrics provides Prometheus metrics for the gateway.
//
// Metrics are exposed at the /metrics endpoint in Prometheus text format:
//
//	curl http://localhost:8477/metrics
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InboundMessages counts normalized inbound messages by declared type.
	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_inbound_messages_total",
		Help: "Normalized inbound messages by declared type.",
	}, []string{"type"})

	// MediaStoredBytes counts bytes of inbound media persisted to disk.
	MediaStoredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_media_stored_bytes_total",
		Help: "Bytes of inbound media persisted to disk.",
	})

	// MediaErrors counts per-message media failures by stage (fetch, write).
	MediaErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_media_errors_total",
		Help: "Per-message media failures by pipeline stage.",
	}, []string{"stage"})

	// FanoutEvents counts events broadcast to subscribers.
	FanoutEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_fanout_events_total",
		Help: "Events broadcast to live subscribers by event type.",
	}, []string{"type"})

	// SubscribersDropped counts subscribers dropped for queue overflow.
	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_fanout_dropped_subscribers_total",
		Help: "Subscribers dropped because their queue overflowed.",
	})

	// Subscribers tracks currently registered fan-out subscribers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_fanout_subscribers",
		Help: "Currently registered fan-out subscribers.",
	})

	// OutboundSends counts outbound dispatch results by kind and outcome.
	OutboundSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_outbound_sends_total",
		Help: "Outbound dispatch results by payload kind and outcome.",
	}, []string{"kind", "outcome"})

	// SessionState reports the current session state as a one-hot gauge.
	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parley_session_state",
		Help: "Current session state (1 for the active state, 0 otherwise).",
	}, []string{"state"})
)

// SetSessionState marks state as current and clears the previous state.
func SetSessionState(previous, current string) {
	if previous != "" {
		SessionState.WithLabelValues(previous).Set(0)
	}
	SessionState.WithLabelValues(current).Set(1)
}
