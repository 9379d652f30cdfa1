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

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

const violationColumns = `id, rule_id, rule_type, server_user_id,
	session_id, severity, data, acknowledged_at, created_at`

func scanViolation(row interface{ Scan(...any) error }) (*models.Violation, error) {
	var (
		v              models.Violation
		data           sql.NullString
		acknowledgedAt sql.NullString
		createdAt      string
	)

	err := row.Scan(
		&v.ID, &v.RuleID, &v.RuleType, &v.ServerUserID, &v.SessionID,
		&v.Severity, &data, &acknowledgedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if data.Valid && data.String != "" {
		v.Data = json.RawMessage(data.String)
	}
	if v.AcknowledgedAt, err = scanTimePtr(acknowledgedAt); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// UnacknowledgedViolations returns the user's unacknowledged violations of
// one rule type created since the cutoff, newest first. Runs on q so the
// dedup path can read under the same transaction it writes in.
func (s *Store) UnacknowledgedViolations(ctx context.Context, q querier, serverUserID string, ruleType models.RuleType, since time.Time) ([]models.Violation, error) {
	if q == nil {
		q = s.db
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+violationColumns+` FROM violations
		WHERE server_user_id = ? AND rule_type = ?
			AND acknowledged_at IS NULL AND created_at >= ?
		ORDER BY created_at DESC`,
		serverUserID, string(ruleType), fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("unacknowledged violations: %w", err)
	}
	defer rows.Close()
	return collectViolations(rows)
}

// InsertViolationTx inserts a violation inside tx. A unique-constraint
// failure means another writer created an equivalent unacknowledged
// violation concurrently; that is reported as inserted=false, not an
// error.
func (s *Store) InsertViolationTx(ctx context.Context, tx *sql.Tx, v *models.Violation) (bool, error) {
	var data any
	if len(v.Data) > 0 {
		data = string(v.Data)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO violations (`+violationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.RuleID, string(v.RuleType), v.ServerUserID, v.SessionID,
		string(v.Severity), data, fmtTimePtr(v.AcknowledgedAt),
		fmtTime(v.CreatedAt),
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert violation: %w", err)
	}
	return true, nil
}

// AcknowledgeViolation marks a violation acknowledged. Acknowledging an
// already-acknowledged violation is a no-op.
func (s *Store) AcknowledgeViolation(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE violations SET acknowledged_at = ?
		WHERE id = ? AND acknowledged_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("acknowledge violation: %w", err)
	}
	return nil
}

// LatestAcknowledgedViolation returns the user's most recently
// acknowledged violation of one rule type, or nil. Used for the sticky
// acknowledgement check on inactivity rules.
func (s *Store) LatestAcknowledgedViolation(ctx context.Context, serverUserID string, ruleType models.RuleType) (*models.Violation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+violationColumns+` FROM violations
		WHERE server_user_id = ? AND rule_type = ?
			AND acknowledged_at IS NOT NULL
		ORDER BY acknowledged_at DESC LIMIT 1`,
		serverUserID, string(ruleType))

	v, err := scanViolation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest acknowledged violation: %w", err)
	}
	return v, nil
}

// ViolationsForUser returns all of the user's violations, newest first.
func (s *Store) ViolationsForUser(ctx context.Context, serverUserID string) ([]models.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+violationColumns+` FROM violations
		WHERE server_user_id = ?
		ORDER BY created_at DESC`,
		serverUserID)
	if err != nil {
		return nil, fmt.Errorf("violations for user: %w", err)
	}
	defer rows.Close()
	return collectViolations(rows)
}

func collectViolations(rows *sql.Rows) ([]models.Violation, error) {
	var violations []models.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		violations = append(violations, *v)
	}
	return violations, rows.Err()
}
