// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package api exposes the gateway over HTTP: session lifecycle commands,
// the status/QR queries, outbound sends, conversation summaries, the
// WebSocket fan-out endpoint and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/outbound"
	"github.com/parley-chat/parley/internal/session"
	"github.com/parley-chat/parley/internal/store"
	ws "github.com/parley-chat/parley/internal/websocket"
)

// Server holds the handlers' collaborators.
type Server struct {
	cfg        config.ServerConfig
	session    *session.Controller
	dispatcher *outbound.Dispatcher
	store      *store.Store
	bus        *bus.Bus
}

// NewServer wires the HTTP layer.
func NewServer(cfg config.ServerConfig, ctrl *session.Controller, dispatcher *outbound.Dispatcher, st *store.Store, b *bus.Bus) *Server {
	return &Server{
		cfg:        cfg,
		session:    ctrl,
		dispatcher: dispatcher,
		store:      st,
		bus:        b,
	}
}

// Router builds the chi router with middleware and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	if s.cfg.RateLimitReqs > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/ws", ws.Handler(s.bus))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/qr", s.handleQR)
		r.Get("/conversations", s.handleConversations)

		r.Route("/session", func(r chi.Router) {
			r.Post("/initialize", s.handleInitialize)
			r.Post("/disconnect", s.handleDisconnect)
			r.Post("/reset", s.handleReset)
		})

		r.Route("/send", func(r chi.Router) {
			r.Post("/text", s.handleSendText)
			r.Post("/media", s.handleSendMedia)
			r.Post("/voice", s.handleSendVoice)
		})
	})

	return r
}
