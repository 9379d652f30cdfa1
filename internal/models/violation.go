// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Violation is a detected policy breach. Violations are created only
// through the dedup-gated path and never mutated except to set
// AcknowledgedAt.
type Violation struct {
	ID     string `json:"id"`
	RuleID string `json:"rule_id"`

	// RuleType is a denormalized copy of the rule's type, immutable even
	// if the rule is later edited or deleted.
	RuleType RuleType `json:"rule_type"`

	ServerUserID string `json:"server_user_id"`

	// SessionID is the triggering session.
	SessionID string `json:"session_id"`

	Severity Severity `json:"severity"`

	// Data is the rule-specific payload. For multi-session rule types it
	// includes related_session_ids.
	Data json.RawMessage `json:"data,omitempty"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RelatedSessionIDs extracts related_session_ids from the Data payload.
// Returns nil for single-session rule types or malformed payloads; a
// missing field is not an error on the read path.
func (v *Violation) RelatedSessionIDs() []string {
	if len(v.Data) == 0 {
		return nil
	}
	var payload struct {
		RelatedSessionIDs []string `json:"related_session_ids"`
	}
	if err := json.Unmarshal(v.Data, &payload); err != nil {
		return nil
	}
	return payload.RelatedSessionIDs
}
