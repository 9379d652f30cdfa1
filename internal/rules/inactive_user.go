// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// EvaluateInactiveUser checks one server user against an inactive_user
// rule. It is driven by the inactivity scanner on its own interval, never
// by the per-poll path.
//
// lastAcknowledged is the user's most recent acknowledged inactive_user
// violation, or nil. With sticky acknowledgement enabled, a user already
// acknowledged at their current last-activity timestamp is not re-flagged
// until that timestamp changes, that is, until they stream again.
func EvaluateInactiveUser(user *models.ServerUser, rule *models.Rule, lastAcknowledged *models.Violation, now time.Time) (Result, error) {
	var params InactiveUserParams
	if err := decodeParams(rule.Params, &params); err != nil {
		return Result{Rule: rule}, err
	}

	if user.LastActivityAt == nil {
		// Never-active users have no timestamp to age against.
		return Result{Rule: rule}, nil
	}

	threshold := time.Duration(params.InactiveDays) * 24 * time.Hour
	if now.Sub(*user.LastActivityAt) < threshold {
		return Result{Rule: rule}, nil
	}

	lastActivity := user.LastActivityAt.UTC().Format(time.RFC3339)

	if params.StickyAcknowledgement && lastAcknowledged != nil {
		var prev InactiveUserData
		if err := json.Unmarshal(lastAcknowledged.Data, &prev); err == nil &&
			prev.LastActivityAt == lastActivity {
			return Result{Rule: rule}, nil
		}
	}

	data, err := json.Marshal(InactiveUserData{
		LastActivityAt: lastActivity,
		InactiveDays:   params.InactiveDays,
	})
	if err != nil {
		return Result{Rule: rule}, fmt.Errorf("marshal payload: %w", err)
	}

	return Result{
		Violated: true,
		Severity: severityOrDefault(params.Severity, rule.Type),
		Data:     data,
		Rule:     rule,
	}, nil
}
