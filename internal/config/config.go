// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package config loads and validates the service configuration from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables, in ascending precedence.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration.
type Config struct {
	Logging  LoggingConfig  `koanf:"logging"`
	Database DatabaseConfig `koanf:"database"`
	HTTP     HTTPConfig     `koanf:"http"`
	Poll     PollConfig     `koanf:"poll"`
	Scanner  ScannerConfig  `koanf:"scanner"`
	Dedup    DedupConfig    `koanf:"dedup"`
	Events   EventsConfig   `koanf:"events"`
	NATS     NATSConfig     `koanf:"nats"`
	Adapter  AdapterConfig  `koanf:"adapter"`

	// Servers are the media servers to monitor. Upserted into storage at
	// startup.
	Servers []MediaServerConfig `koanf:"servers" validate:"dive"`

	// Rules are policy rules applied at startup. Rules already in storage
	// with the same id are replaced.
	Rules []RuleConfig `koanf:"rules" validate:"dive"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// HTTPConfig controls the health/metrics listener.
type HTTPConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// PollConfig tunes the per-server poll loops.
type PollConfig struct {
	// Interval is the default tick period; per-server settings override.
	Interval time.Duration `koanf:"interval" validate:"min=1s"`

	// EvalWindow bounds the recent-session window for rule evaluation.
	EvalWindow time.Duration `koanf:"eval_window" validate:"min=1m"`

	// ChainWindow bounds how far back a stopped session can be resumed.
	ChainWindow time.Duration `koanf:"chain_window" validate:"min=1m"`
}

// ScannerConfig tunes the inactivity scanner.
type ScannerConfig struct {
	Interval time.Duration `koanf:"interval" validate:"min=1m"`

	// TrustRecoveryPoints are added back to degraded trust scores each
	// cycle; 0 disables recovery.
	TrustRecoveryPoints int `koanf:"trust_recovery_points" validate:"min=0"`
}

// DedupConfig tunes violation deduplication.
type DedupConfig struct {
	Window time.Duration `koanf:"window" validate:"min=1m"`
}

// EventsConfig tunes the internal event bus.
type EventsConfig struct {
	QueueSize int `koanf:"queue_size" validate:"min=1"`
}

// NATSConfig controls the optional JetStream forwarder.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url" validate:"required_if=Enabled true"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// AdapterConfig hardens snapshot fetches against the media servers.
type AdapterConfig struct {
	RatePerSecond    float64       `koanf:"rate_per_second" validate:"gt=0"`
	Burst            int           `koanf:"burst" validate:"min=1"`
	BreakerOpenAfter uint32        `koanf:"breaker_open_after" validate:"min=1"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
}

// MediaServerConfig describes one monitored media server.
type MediaServerConfig struct {
	ID                  string `koanf:"id" validate:"required"`
	Name                string `koanf:"name" validate:"required"`
	Type                string `koanf:"type" validate:"oneof=plex jellyfin emby tautulli"`
	URL                 string `koanf:"url" validate:"required,url"`
	Token               string `koanf:"token"`
	Enabled             bool   `koanf:"enabled"`
	PollIntervalSeconds int    `koanf:"poll_interval_seconds" validate:"min=0"`
}

// RuleConfig describes one policy rule applied at startup.
type RuleConfig struct {
	ID           string         `koanf:"id" validate:"required"`
	Type         string         `koanf:"type" validate:"oneof=impossible_travel simultaneous_locations device_velocity concurrent_streams geo_restriction inactive_user"`
	Params       map[string]any `koanf:"params" validate:"required"`
	ServerUserID string         `koanf:"server_user_id"`
	Active       bool           `koanf:"active"`
}

// defaultConfig returns the built-in defaults, overridden by file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			Path: "/data/streamwarden.db",
		},
		HTTP: HTTPConfig{
			Host:    "0.0.0.0",
			Port:    9090,
			Timeout: 30 * time.Second,
		},
		Poll: PollConfig{
			Interval:    15 * time.Second,
			EvalWindow:  24 * time.Hour,
			ChainWindow: 24 * time.Hour,
		},
		Scanner: ScannerConfig{
			Interval:            time.Hour,
			TrustRecoveryPoints: 0,
		},
		Dedup: DedupConfig{
			Window: 48 * time.Hour,
		},
		Events: EventsConfig{
			QueueSize: 1024,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			MaxReconnects: 60,
			ReconnectWait: 2 * time.Second,
		},
		Adapter: AdapterConfig{
			RatePerSecond:    2,
			Burst:            1,
			BreakerOpenAfter: 5,
			BreakerCooldown:  30 * time.Second,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Servers))
	for _, srv := range c.Servers {
		if seen[srv.ID] {
			return fmt.Errorf("duplicate server id %q", srv.ID)
		}
		seen[srv.ID] = true
	}
	return nil
}
