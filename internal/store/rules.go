// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

const ruleColumns = `id, type, params, server_user_id, is_active,
	created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*models.Rule, error) {
	var (
		r                  models.Rule
		params             string
		serverUserID       sql.NullString
		createdAt, updated string
	)

	err := row.Scan(&r.ID, &r.Type, &params, &serverUserID, &r.IsActive,
		&createdAt, &updated)
	if err != nil {
		return nil, err
	}

	r.Params = json.RawMessage(params)
	if serverUserID.Valid {
		r.ServerUserID = &serverUserID.String
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

// ActiveRules returns all active rules.
func (s *Store) ActiveRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE is_active = 1
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("active rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// ActiveRulesOfType returns active rules of one type, for the scanner.
func (s *Store) ActiveRulesOfType(ctx context.Context, ruleType models.RuleType) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE is_active = 1 AND type = ?
		ORDER BY created_at`,
		string(ruleType))
	if err != nil {
		return nil, fmt.Errorf("active rules of type: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// UpsertRule creates or replaces a rule by ID.
func (s *Store) UpsertRule(ctx context.Context, r *models.Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			params = excluded.params,
			server_user_id = excluded.server_user_id,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		r.ID, string(r.Type), string(r.Params), nullStr(r.ServerUserID),
		r.IsActive, fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}
