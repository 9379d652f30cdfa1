// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package store

import "fmt"

// schema is applied on every open; all statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS media_servers (
		id                    TEXT PRIMARY KEY,
		name                  TEXT NOT NULL,
		type                  TEXT NOT NULL,
		url                   TEXT NOT NULL,
		enabled               INTEGER NOT NULL DEFAULT 1,
		poll_interval_seconds INTEGER NOT NULL DEFAULT 15,
		created_at            TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS server_users (
		id               TEXT PRIMARY KEY,
		server_id        TEXT NOT NULL REFERENCES media_servers(id),
		username         TEXT NOT NULL,
		last_activity_at TEXT,
		trust_score      INTEGER NOT NULL DEFAULT 100,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		UNIQUE (server_id, username)
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id                  TEXT PRIMARY KEY,
		server_id           TEXT NOT NULL,
		server_user_id      TEXT NOT NULL,
		session_key         TEXT NOT NULL,
		external_session_id TEXT,
		state               TEXT NOT NULL,
		started_at          TEXT NOT NULL,
		stopped_at          TEXT,
		last_paused_at      TEXT,
		paused_duration_ms  INTEGER NOT NULL DEFAULT 0,
		duration_ms         INTEGER,
		progress_ms         INTEGER,
		total_duration_ms   INTEGER,
		watched             INTEGER NOT NULL DEFAULT 0,
		reference_id        TEXT,
		device_id           TEXT NOT NULL DEFAULT '',
		platform            TEXT NOT NULL DEFAULT '',
		product             TEXT NOT NULL DEFAULT '',
		ip_address          TEXT NOT NULL DEFAULT '',
		city                TEXT NOT NULL DEFAULT '',
		region              TEXT NOT NULL DEFAULT '',
		country_code        TEXT NOT NULL DEFAULT '',
		latitude            REAL NOT NULL DEFAULT 0,
		longitude           REAL NOT NULL DEFAULT 0,
		video_decision      TEXT NOT NULL DEFAULT '',
		bitrate             INTEGER NOT NULL DEFAULT 0,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	)`,

	// One active row per provider session key; stopped rows keep history.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_key
		ON sessions (server_id, session_key)
		WHERE stopped_at IS NULL`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_user_started
		ON sessions (server_user_id, started_at)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		params         TEXT NOT NULL,
		server_user_id TEXT,
		is_active      INTEGER NOT NULL DEFAULT 1,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS violations (
		id              TEXT PRIMARY KEY,
		rule_id         TEXT NOT NULL,
		rule_type       TEXT NOT NULL,
		server_user_id  TEXT NOT NULL,
		session_id      TEXT NOT NULL,
		severity        TEXT NOT NULL,
		data            TEXT,
		acknowledged_at TEXT,
		created_at      TEXT NOT NULL
	)`,

	// Storage-level dedup backstop: at most one unacknowledged violation
	// per (user, session, rule type), independent of application dedup.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_violations_unacknowledged
		ON violations (server_user_id, session_id, rule_type)
		WHERE acknowledged_at IS NULL`,

	`CREATE INDEX IF NOT EXISTS idx_violations_user_type
		ON violations (server_user_id, rule_type, created_at)`,
}

// migrate applies the schema.
func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
