// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package store

import (
	"context"
	"fmt"

	"github.com/streamwarden/streamwarden/internal/models"
)

// UpsertServer creates or updates a media server by ID.
func (s *Store) UpsertServer(ctx context.Context, srv *models.MediaServer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_servers (id, name, type, url, enabled, poll_interval_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			url = excluded.url,
			enabled = excluded.enabled,
			poll_interval_seconds = excluded.poll_interval_seconds`,
		srv.ID, srv.Name, srv.Type, srv.URL, srv.Enabled,
		srv.PollIntervalSeconds, fmtTime(srv.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert server: %w", err)
	}
	return nil
}

// ListEnabledServers returns the servers that should be polled.
func (s *Store) ListEnabledServers(ctx context.Context) ([]models.MediaServer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, url, enabled, poll_interval_seconds, created_at
		FROM media_servers WHERE enabled = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list enabled servers: %w", err)
	}
	defer rows.Close()

	var servers []models.MediaServer
	for rows.Next() {
		var (
			srv       models.MediaServer
			createdAt string
		)
		err := rows.Scan(&srv.ID, &srv.Name, &srv.Type, &srv.URL,
			&srv.Enabled, &srv.PollIntervalSeconds, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		if srv.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}
