// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

// Package config loads and validates Parley's configuration.
//
// Configuration is layered via Koanf v2 (highest priority wins):
//
//  1. Environment variables (see envTransformFunc for the mapping)
//  2. Config file (parley.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the gateway process.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Transport TransportConfig `koanf:"transport"`
	Session   SessionConfig   `koanf:"session"`
	Media     MediaConfig     `koanf:"media"`
	Store     StoreConfig     `koanf:"store"`
	Bus       BusConfig       `koanf:"bus"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Outbound  OutboundConfig  `koanf:"outbound"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// TransportConfig holds the connection settings for the browser-automation
// sidecar that fronts the external messaging service.
type TransportConfig struct {
	// SidecarURL is the sidecar's WebSocket control endpoint.
	SidecarURL string `koanf:"sidecar_url" validate:"required"`

	// DialTimeout bounds the sidecar dial on Connect.
	DialTimeout time.Duration `koanf:"dial_timeout" validate:"required"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"required,min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"required"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	// DataDir is the root directory for on-disk session artifacts.
	// One subdirectory per session id; wiped wholesale on auth failure
	// or explicit reset, never partially recovered.
	DataDir string `koanf:"data_dir" validate:"required"`

	// InitTimeout bounds a single initialization attempt. If the
	// transport does not reach ready within this window the attempt is
	// failed with the full diagnostic trail attached.
	InitTimeout time.Duration `koanf:"init_timeout" validate:"required"`

	// ClearOnInit wipes session artifacts before every fresh
	// initialization. The upstream behavior this gateway replaces always
	// wiped, which defeats persistent login; default is therefore false.
	// Artifacts are still always wiped on auth failure and reset.
	ClearOnInit bool `koanf:"clear_on_init"`
}

// MediaConfig holds inbound media storage settings.
type MediaConfig struct {
	// Dir is where fetched attachments are persisted.
	Dir string `koanf:"dir" validate:"required"`

	// MaxSizeBytes rejects attachments larger than this (0 = unlimited).
	MaxSizeBytes int64 `koanf:"max_size_bytes" validate:"min=0"`
}

// StoreConfig holds message persistence settings.
type StoreConfig struct {
	// Path is the Badger database directory.
	Path string `koanf:"path" validate:"required"`
}

// BusConfig holds fan-out settings.
type BusConfig struct {
	// SubscriberQueueSize bounds each subscriber's outbound queue.
	// A subscriber whose queue overflows is dropped and must resubscribe.
	SubscriberQueueSize int `koanf:"subscriber_queue_size" validate:"required,min=1"`
}

// IngestConfig holds inbound pipeline settings.
type IngestConfig struct {
	// Workers bounds how many inbound messages are normalized concurrently.
	Workers int `koanf:"workers" validate:"required,min=1"`

	// FetchTimeout bounds a single media fetch from the transport.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"required"`

	// BreakerMaxFailures consecutive media-fetch failures open the breaker.
	BreakerMaxFailures uint32 `koanf:"breaker_max_failures" validate:"required,min=1"`

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"required"`
}

// OutboundConfig holds outbound dispatch settings.
type OutboundConfig struct {
	// DefaultCountryCode is prepended to target numbers that carry no
	// country prefix. This is an operator assumption, not a protocol
	// constant; review it for every deployment.
	DefaultCountryCode string `koanf:"default_country_code" validate:"required,numeric"`

	// TargetRatePerSecond limits sends per target conversation.
	TargetRatePerSecond float64 `koanf:"target_rate_per_second" validate:"required"`

	// TargetBurst is the per-target rate limiter burst.
	TargetBurst int `koanf:"target_burst" validate:"required,min=1"`

	// SendRoot confines file and voice payload paths to one directory
	// tree. Empty disables the check; leave it set in production so a
	// send request cannot read arbitrary gateway files.
	SendRoot string `koanf:"send_root"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"required,oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"required,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8477,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Transport: TransportConfig{
			SidecarURL:  "ws://127.0.0.1:8478/control",
			DialTimeout: 15 * time.Second,
		},
		Session: SessionConfig{
			DataDir:     "/data/session",
			InitTimeout: 120 * time.Second,
			ClearOnInit: false,
		},
		Media: MediaConfig{
			Dir:          "/data/media",
			MaxSizeBytes: 64 << 20, // 64MB
		},
		Store: StoreConfig{
			Path: "/data/messages",
		},
		Bus: BusConfig{
			SubscriberQueueSize: 256,
		},
		Ingest: IngestConfig{
			Workers:            8,
			FetchTimeout:       30 * time.Second,
			BreakerMaxFailures: 5,
			BreakerCooldown:    30 * time.Second,
		},
		Outbound: OutboundConfig{
			DefaultCountryCode:  "1",
			TargetRatePerSecond: 1.0,
			TargetBurst:         3,
			SendRoot:            "/data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
