// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package main is the entry point for the Parley gateway process.
//
// Parley exposes a single external WhatsApp-style messaging account to
// multiple internal consumers: it owns the session lifecycle against the
// browser-automation sidecar, normalizes and persists every inbound
// message (media fetched and stored on local disk), fans events out to
// WebSocket subscribers, and serializes outbound sends.
//
// # Application Architecture
//
// The gateway initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered load (defaults, parley.yaml, env)
//  2. Message store: Badger database for messages and conversation summaries
//  3. Media store: on-disk attachment files with deterministic extensions
//  4. Event bus: bounded fan-out to live subscribers
//  5. Ingest pipeline: Watermill router with persist + fan-out handlers
//  6. Session controller: lifecycle state machine over the transport driver
//  7. Outbound dispatcher: per-target ordered, rate-limited sends
//  8. HTTP server: REST API, WebSocket endpoint, Prometheus metrics
//
// Long-running components run under a suture supervisor tree with a
// messaging layer (session controller, inbound router) and an API layer
// (HTTP server) for failure isolation.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervisor context is
// canceled, the HTTP server drains in-flight requests, the transport
// driver is destroyed, and the Badger store is closed last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/ingest"
	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/media"
	"github.com/parley-chat/parley/internal/outbound"
	"github.com/parley-chat/parley/internal/session"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/internal/supervisor"
	"github.com/parley-chat/parley/internal/supervisor/services"
	"github.com/parley-chat/parley/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("sidecar_url", cfg.Transport.SidecarURL).
		Str("store_path", cfg.Store.Path).
		Str("media_dir", cfg.Media.Dir).
		Msg("Starting Parley gateway")

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open message store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing message store")
		}
	}()

	mediaStore, err := media.NewStore(cfg.Media.Dir, cfg.Media.MaxSizeBytes)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create media store")
	}

	b := bus.New(cfg.Bus.SubscriberQueueSize)
	defer b.Close()

	pubsub := ingest.NewPubSub()
	defer func() {
		if err := pubsub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing pub/sub")
		}
	}()

	router, err := ingest.NewRouter(pubsub, st, b)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build inbound router")
	}

	// The controller is the ingestor's media fetcher, and the ingestor is
	// the controller's message sink. Break the cycle by constructing the
	// ingestor against the controller lazily via a small indirection.
	var ctrl *session.Controller
	ingestor := ingest.New(ingest.Config{
		Workers:            cfg.Ingest.Workers,
		FetchTimeout:       cfg.Ingest.FetchTimeout,
		BreakerMaxFailures: cfg.Ingest.BreakerMaxFailures,
		BreakerCooldown:    cfg.Ingest.BreakerCooldown,
	}, fetcherFunc(func(ctx context.Context, ref string) ([]byte, string, error) {
		return ctrl.FetchMedia(ctx, ref)
	}), mediaStore, pubsub)

	factory := func() transport.Driver {
		return transport.NewBridge(transport.BridgeConfig{
			SidecarURL:  cfg.Transport.SidecarURL,
			DialTimeout: cfg.Transport.DialTimeout,
		})
	}

	ctrl, err = session.NewController(session.Config{
		DataDir:     cfg.Session.DataDir,
		InitTimeout: cfg.Session.InitTimeout,
		ClearOnInit: cfg.Session.ClearOnInit,
	}, factory, ingestor, b)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create session controller")
	}

	dispatcher := outbound.New(outbound.Config{
		DefaultCountryCode:  cfg.Outbound.DefaultCountryCode,
		TargetRatePerSecond: cfg.Outbound.TargetRatePerSecond,
		TargetBurst:         cfg.Outbound.TargetBurst,
		SendRoot:            cfg.Outbound.SendRoot,
	}, ctrl)

	apiServer := api.NewServer(cfg.Server, ctrl, dispatcher, st, b)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(ctrl)
	tree.AddMessagingService(services.NewRouterService(router))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.Timeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().
		Str("addr", httpServer.Addr).
		Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Gateway stopped gracefully")
}

// fetcherFunc adapts a closure to ingest.Fetcher.
type fetcherFunc func(ctx context.Context, ref string) ([]byte, string, error)

func (f fetcherFunc) FetchMedia(ctx context.Context, ref string) ([]byte, string, error) {
	return f(ctx, ref)
}
