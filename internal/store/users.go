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

	"github.com/google/uuid"

	"github.com/streamwarden/streamwarden/internal/models"
)

const userColumns = `id, server_id, username, last_activity_at,
	trust_score, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.ServerUser, error) {
	var (
		u                  models.ServerUser
		lastActivityAt     sql.NullString
		createdAt, updated string
	)

	err := row.Scan(&u.ID, &u.ServerID, &u.Username, &lastActivityAt,
		&u.TrustScore, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	if u.LastActivityAt, err = scanTimePtr(lastActivityAt); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureServerUser returns the user for (serverID, username), creating it
// with a full trust score on first sighting.
func (s *Store) EnsureServerUser(ctx context.Context, serverID, username string, now time.Time) (*models.ServerUser, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_users (id, server_id, username, trust_score, created_at, updated_at)
		VALUES (?, ?, ?, 100, ?, ?)
		ON CONFLICT (server_id, username) DO NOTHING`,
		uuid.NewString(), serverID, username, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("ensure server user: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM server_users
		WHERE server_id = ? AND username = ?`,
		serverID, username)

	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("ensure server user: %w", err)
	}
	return u, nil
}

// ServerUserByID returns one user, or nil when unknown.
func (s *Store) ServerUserByID(ctx context.Context, id string) (*models.ServerUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM server_users WHERE id = ?`, id)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("server user by id: %w", err)
	}
	return u, nil
}

// TouchUserActivity advances the user's last activity timestamp.
func (s *Store) TouchUserActivity(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE server_users SET last_activity_at = ?, updated_at = ?
		WHERE id = ? AND (last_activity_at IS NULL OR last_activity_at < ?)`,
		fmtTime(at), fmtTime(at), id, fmtTime(at))
	if err != nil {
		return fmt.Errorf("touch user activity: %w", err)
	}
	return nil
}

// ApplyTrustPenaltyTx decrements the user's trust score inside tx. The
// decrement is a single atomic UPDATE clamped at zero; callers never
// read-modify-write the score.
func (s *Store) ApplyTrustPenaltyTx(ctx context.Context, tx *sql.Tx, serverUserID string, penalty int, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE server_users SET
			trust_score = MAX(0, trust_score - ?),
			updated_at = ?
		WHERE id = ?`,
		penalty, fmtTime(now), serverUserID)
	if err != nil {
		return fmt.Errorf("apply trust penalty: %w", err)
	}
	return nil
}

// RecoverTrustScores adds points to every user below the ceiling, clamped
// at 100. Run periodically so scores heal over time.
func (s *Store) RecoverTrustScores(ctx context.Context, points int, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE server_users SET
			trust_score = MIN(100, trust_score + ?),
			updated_at = ?
		WHERE trust_score < 100`,
		points, fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("recover trust scores: %w", err)
	}
	return res.RowsAffected()
}

// InactiveUserCandidates returns users whose last activity is older than
// the cutoff. Users with no recorded activity are never candidates.
func (s *Store) InactiveUserCandidates(ctx context.Context, cutoff time.Time) ([]models.ServerUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM server_users
		WHERE (last_activity_at IS NOT NULL AND last_activity_at < ?)
		ORDER BY last_activity_at`,
		fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("inactive user candidates: %w", err)
	}
	defer rows.Close()

	var users []models.ServerUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
