// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// evaluateConcurrentStreams enforces the per-user stream limit. The count
// is the current session plus every active session in the recent window;
// the limit itself is allowed, one past it violates.
func evaluateConcurrentStreams(current *models.Session, rule *models.Rule, window []models.Session) (Result, error) {
	var params ConcurrentStreamsParams
	if err := decodeParams(rule.Params, &params); err != nil {
		return Result{Rule: rule}, err
	}

	count := 1 + len(window)
	if count <= params.MaxStreams {
		return Result{Rule: rule}, nil
	}

	related := make([]string, 0, len(window))
	for i := range window {
		related = append(related, window[i].ID)
	}

	data, err := json.Marshal(ConcurrentStreamsData{
		ActiveStreamCount: count,
		MaxStreams:        params.MaxStreams,
		RelatedSessionIDs: related,
	})
	if err != nil {
		return Result{Rule: rule}, fmt.Errorf("marshal payload: %w", err)
	}

	return Result{
		Violated:          true,
		Severity:          severityOrDefault(params.Severity, rule.Type),
		Data:              data,
		RelatedSessionIDs: related,
		Rule:              rule,
	}, nil
}
