// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

const sessionColumns = `id, server_id, server_user_id, session_key,
	external_session_id, state, started_at, stopped_at, last_paused_at,
	paused_duration_ms, duration_ms, progress_ms, total_duration_ms,
	watched, reference_id, device_id, platform, product, ip_address,
	city, region, country_code, latitude, longitude, video_decision,
	bitrate, created_at, updated_at`

// scanSession reads one session row.
func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var (
		s                             models.Session
		externalID, referenceID       sql.NullString
		startedAt, createdAt, updated string
		stoppedAt, lastPausedAt       sql.NullString
		durationMs, progressMs        sql.NullInt64
		totalDurationMs               sql.NullInt64
	)

	err := row.Scan(
		&s.ID, &s.ServerID, &s.ServerUserID, &s.SessionKey,
		&externalID, &s.State, &startedAt, &stoppedAt, &lastPausedAt,
		&s.PausedDurationMs, &durationMs, &progressMs, &totalDurationMs,
		&s.Watched, &referenceID, &s.DeviceID, &s.Platform, &s.Product,
		&s.IPAddress, &s.City, &s.Region, &s.CountryCode, &s.Latitude,
		&s.Longitude, &s.VideoDecision, &s.Bitrate, &createdAt, &updated,
	)
	if err != nil {
		return nil, err
	}

	if externalID.Valid {
		s.ExternalSessionID = &externalID.String
	}
	if referenceID.Valid {
		s.ReferenceID = &referenceID.String
	}
	if durationMs.Valid {
		s.DurationMs = &durationMs.Int64
	}
	if progressMs.Valid {
		s.ProgressMs = &progressMs.Int64
	}
	if totalDurationMs.Valid {
		s.TotalDurationMs = &totalDurationMs.Int64
	}

	if s.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if s.StoppedAt, err = scanTimePtr(stoppedAt); err != nil {
		return nil, err
	}
	if s.LastPausedAt, err = scanTimePtr(lastPausedAt); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSession creates a new session row on first sighting of a provider
// session key.
func (s *Store) InsertSession(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ServerID, sess.ServerUserID, sess.SessionKey,
		nullStr(sess.ExternalSessionID), string(sess.State),
		fmtTime(sess.StartedAt), fmtTimePtr(sess.StoppedAt),
		fmtTimePtr(sess.LastPausedAt), sess.PausedDurationMs,
		nullInt64(sess.DurationMs), nullInt64(sess.ProgressMs),
		nullInt64(sess.TotalDurationMs), sess.Watched,
		nullStr(sess.ReferenceID), sess.DeviceID, sess.Platform,
		sess.Product, sess.IPAddress, sess.City, sess.Region,
		sess.CountryCode, sess.Latitude, sess.Longitude,
		sess.VideoDecision, sess.Bitrate,
		fmtTime(sess.CreatedAt), fmtTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSessionProgress mutates an active session on poll: state, pause
// tracking, playback position, watched flag, and context fields that can
// legitimately change mid-session.
func (s *Store) UpdateSessionProgress(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = ?, last_paused_at = ?, paused_duration_ms = ?,
			progress_ms = ?, total_duration_ms = ?, watched = ?,
			ip_address = ?, city = ?, region = ?, country_code = ?,
			latitude = ?, longitude = ?, video_decision = ?, bitrate = ?,
			updated_at = ?
		WHERE id = ? AND stopped_at IS NULL`,
		string(sess.State), fmtTimePtr(sess.LastPausedAt),
		sess.PausedDurationMs, nullInt64(sess.ProgressMs),
		nullInt64(sess.TotalDurationMs), sess.Watched,
		sess.IPAddress, sess.City, sess.Region, sess.CountryCode,
		sess.Latitude, sess.Longitude, sess.VideoDecision, sess.Bitrate,
		fmtTime(sess.UpdatedAt), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// FinalizeSession stops a session exactly once: the stopped_at guard means
// a second finalize of the same row is a no-op.
func (s *Store) FinalizeSession(ctx context.Context, id string, stoppedAt time.Time, durationMs, pausedDurationMs int64, watched bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = ?, stopped_at = ?, last_paused_at = NULL,
			duration_ms = ?, paused_duration_ms = ?, watched = ?,
			updated_at = ?
		WHERE id = ? AND stopped_at IS NULL`,
		string(models.StateStopped), fmtTime(stoppedAt), durationMs,
		pausedDurationMs, watched, fmtTime(stoppedAt), id,
	)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	return nil
}

// ActiveSessionByKey returns the active session for a provider session
// key, or nil when none exists.
func (s *Store) ActiveSessionByKey(ctx context.Context, serverID, sessionKey string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_id = ? AND session_key = ? AND stopped_at IS NULL`,
		serverID, sessionKey)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active session by key: %w", err)
	}
	return sess, nil
}

// ActiveSessionsForServer returns all active sessions on one server.
func (s *Store) ActiveSessionsForServer(ctx context.Context, serverID string) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_id = ? AND stopped_at IS NULL`,
		serverID)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// RecentSessionsForUser returns the user's sessions seen since the cutoff,
// newest first. Both active and stopped rows are returned; the rule engine
// applies its own activity filtering.
func (s *Store) RecentSessionsForUser(ctx context.Context, serverUserID string, since time.Time) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_user_id = ? AND (stopped_at IS NULL OR started_at >= ?)
		ORDER BY started_at DESC`,
		serverUserID, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// LatestStoppedSessionForUser returns the user's most recently stopped
// session, for resume-chain resolution. Nil when the user has none.
func (s *Store) LatestStoppedSessionForUser(ctx context.Context, serverUserID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_user_id = ? AND stopped_at IS NOT NULL
		ORDER BY stopped_at DESC LIMIT 1`,
		serverUserID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest stopped session: %w", err)
	}
	return sess, nil
}

// LatestSessionForUser returns the user's most recent session in any
// state, used by the inactivity scanner as the triggering session.
func (s *Store) LatestSessionForUser(ctx context.Context, serverUserID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_user_id = ?
		ORDER BY started_at DESC LIMIT 1`,
		serverUserID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest session: %w", err)
	}
	return sess, nil
}

func collectSessions(rows *sql.Rows) ([]models.Session, error) {
	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}
