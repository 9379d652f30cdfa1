// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package main is the entry point for the Streamwarden server.
//
// Streamwarden watches streaming sessions on Plex, Jellyfin, Emby, and
// Tautulli servers and flags policy violations: concurrent streams,
// impossible travel, simultaneous locations, device velocity, geo
// restrictions, and account inactivity.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file, environment (Koanf v2)
//  2. Storage: SQLite database with embedded schema migrations
//  3. Seeding: media servers and rules from configuration
//  4. Event bus: in-process Watermill pub/sub for session and violation events
//  5. NATS (optional): JetStream forwarder for external consumers
//  6. Supervisor tree: per-server pollers, inactivity scanner, HTTP endpoint
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (LOG_LEVEL, DATABASE_PATH, NATS_URL, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// Media servers and rules are declared in the config file and upserted
// into storage at startup:
//
//	servers:
//	  - id: plex-main
//	    name: Main Plex
//	    type: plex
//	    url: http://plex:32400
//	    token: your-plex-token
//	    enabled: true
//	rules:
//	  - id: max-two-streams
//	    type: concurrent_streams
//	    active: true
//	    params:
//	      max_streams: 2
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the supervisor
// tree stops its services, in-flight poll cycles finish, and the event
// bus drains before the database closes.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/adapter"
	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/dedup"
	"github.com/streamwarden/streamwarden/internal/events"
	"github.com/streamwarden/streamwarden/internal/locks"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/poller"
	"github.com/streamwarden/streamwarden/internal/rules"
	"github.com/streamwarden/streamwarden/internal/scanner"
	"github.com/streamwarden/streamwarden/internal/server"
	"github.com/streamwarden/streamwarden/internal/store"
	"github.com/streamwarden/streamwarden/internal/supervisor"
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
		Str("db_path", cfg.Database.Path).
		Int("servers", len(cfg.Servers)).
		Int("rules", len(cfg.Rules)).
		Msg("Configuration loaded")

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := seedFromConfig(ctx, st, cfg); err != nil {
		logging.Fatal().Err(err).Msg("Failed to apply configured servers and rules")
	}

	bus := events.NewBus(cfg.Events.QueueSize)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	engine := rules.NewEngine()
	dd := dedup.New(st, locks.NewManager(), cfg.Dedup.Window)

	tree := supervisor.NewTree(supervisor.TreeConfig{})

	servers, err := st.ListEnabledServers(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to list enabled servers")
	}
	if len(servers) == 0 {
		logging.Warn().Msg("No enabled media servers configured; nothing to poll")
	}
	tokens := make(map[string]string, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		tokens[srv.ID] = srv.Token
	}
	for _, srv := range servers {
		source, err := adapter.NewSource(srv.Type, srv.URL, tokens[srv.ID])
		if err != nil {
			logging.Fatal().Str("server", srv.Name).Err(err).Msg("Failed to build media server adapter")
		}
		hardened := adapter.NewHardened(srv.Name, source, adapter.HardenedConfig{
			RatePerSecond:    cfg.Adapter.RatePerSecond,
			Burst:            cfg.Adapter.Burst,
			BreakerOpenAfter: cfg.Adapter.BreakerOpenAfter,
			BreakerCooldown:  cfg.Adapter.BreakerCooldown,
		})
		p := poller.New(srv, hardened, st, engine, dd, bus, poller.Config{
			Interval:    cfg.Poll.Interval,
			EvalWindow:  cfg.Poll.EvalWindow,
			ChainWindow: cfg.Poll.ChainWindow,
		})
		tree.AddMonitoringService(p)
		logging.Info().
			Str("server", srv.Name).
			Str("type", srv.Type).
			Msg("Poller registered")
	}

	sc := scanner.New(st, dd, bus, scanner.Config{
		Interval:            cfg.Scanner.Interval,
		TrustRecoveryPoints: cfg.Scanner.TrustRecoveryPoints,
	})
	tree.AddMonitoringService(sc)

	if cfg.NATS.Enabled {
		fwd, err := events.NewForwarder(bus, events.ForwarderConfig{
			URL:           cfg.NATS.URL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer func() {
			if err := fwd.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing NATS forwarder")
			}
		}()
		tree.AddMessagingService(fwd)
		logging.Info().Str("url", cfg.NATS.URL).Msg("NATS forwarder registered")
	}

	tree.AddAPIService(server.New(server.Config{
		Host:    cfg.HTTP.Host,
		Port:    cfg.HTTP.Port,
		Timeout: cfg.HTTP.Timeout,
	}, st))

	logging.Info().Msg("Starting Streamwarden supervisor tree")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor tree failed")
	}
	logging.Info().Msg("Shutdown complete")
}

// seedFromConfig upserts the configured media servers and rules so the
// pollers and scanner read a single source of truth from storage.
func seedFromConfig(ctx context.Context, st *store.Store, cfg *config.Config) error {
	now := time.Now().UTC()

	for _, srv := range cfg.Servers {
		if err := st.UpsertServer(ctx, &models.MediaServer{
			ID:                  srv.ID,
			Name:                srv.Name,
			Type:                srv.Type,
			URL:                 srv.URL,
			Enabled:             srv.Enabled,
			PollIntervalSeconds: srv.PollIntervalSeconds,
			CreatedAt:           now,
		}); err != nil {
			return fmt.Errorf("upsert server %q: %w", srv.ID, err)
		}
	}

	for _, rc := range cfg.Rules {
		params, err := json.Marshal(rc.Params)
		if err != nil {
			return fmt.Errorf("encode params for rule %q: %w", rc.ID, err)
		}
		rule := &models.Rule{
			ID:        rc.ID,
			Type:      models.RuleType(rc.Type),
			Params:    params,
			IsActive:  rc.Active,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if rc.ServerUserID != "" {
			userID := rc.ServerUserID
			rule.ServerUserID = &userID
		}
		if err := st.UpsertRule(ctx, rule); err != nil {
			return fmt.Errorf("upsert rule %q: %w", rc.ID, err)
		}
	}
	return nil
}
