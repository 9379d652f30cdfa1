// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Poll.Interval != 15*time.Second {
		t.Errorf("poll interval = %v, want 15s", cfg.Poll.Interval)
	}
	if cfg.Dedup.Window != 48*time.Hour {
		t.Errorf("dedup window = %v, want 48h", cfg.Dedup.Window)
	}
	if cfg.NATS.Enabled {
		t.Error("nats should be disabled by default")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
logging:
  level: debug
  format: console
poll:
  interval: 30s
servers:
  - id: plex-main
    name: Living Room Plex
    type: plex
    url: http://plex.local:32400
    token: secret
    enabled: true
    poll_interval_seconds: 10
rules:
  - id: rule-streams
    type: concurrent_streams
    params:
      max_streams: 2
    active: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %s, want debug", cfg.Logging.Level)
	}
	if cfg.Poll.Interval != 30*time.Second {
		t.Errorf("poll interval = %v, want 30s", cfg.Poll.Interval)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].ID != "plex-main" {
		t.Fatalf("servers = %+v", cfg.Servers)
	}
	if cfg.Servers[0].PollIntervalSeconds != 10 {
		t.Errorf("per-server interval = %d, want 10", cfg.Servers[0].PollIntervalSeconds)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Type != "concurrent_streams" {
		t.Fatalf("rules = %+v", cfg.Rules)
	}

	// Database path keeps its default when the file is silent.
	if cfg.Database.Path != "/data/streamwarden.db" {
		t.Errorf("database path = %s", cfg.Database.Path)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DATABASE_PATH", "/tmp/override.db")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %s, want env override warn", cfg.Logging.Level)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("database path = %s, want env override", cfg.Database.Path)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("invalid log level accepted")
	}
}

func TestValidateRejectsDuplicateServerIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
servers:
  - id: dup
    name: one
    type: plex
    url: http://a.local
    enabled: true
  - id: dup
    name: two
    type: emby
    url: http://b.local
    enabled: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("duplicate server ids accepted")
	}
}
