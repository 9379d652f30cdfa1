// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// evaluateGeoRestriction checks the session's country against the
// configured allow or block list. An unknown country is never a breach:
// degraded geo data must not flag users the rule cannot actually place.
// Single-session rule type, no history needed.
func evaluateGeoRestriction(current *models.Session, rule *models.Rule) (Result, error) {
	var params GeoRestrictionParams
	if err := decodeParams(rule.Params, &params); err != nil {
		return Result{Rule: rule}, err
	}

	country := strings.ToUpper(current.CountryCode)
	if country == "" {
		return Result{Rule: rule}, nil
	}

	listed := false
	for _, c := range params.Countries {
		if strings.EqualFold(c, country) {
			listed = true
			break
		}
	}

	violated := false
	switch params.Mode {
	case GeoModeAllow:
		violated = !listed
	case GeoModeBlock:
		violated = listed
	}
	if !violated {
		return Result{Rule: rule}, nil
	}

	data, err := json.Marshal(GeoRestrictionData{
		CountryCode: country,
		Mode:        string(params.Mode),
		Countries:   params.Countries,
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
