// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// evaluateDeviceVelocity counts distinct non-empty IP addresses seen for
// the user within the configured window. Empty identifiers are unknown and
// never counted, in either direction: they neither inflate the count nor
// match each other. Single-session rule type, no related sessions.
func (e *Engine) evaluateDeviceVelocity(current *models.Session, rule *models.Rule, window []models.Session) (Result, error) {
	var params DeviceVelocityParams
	if err := decodeParams(rule.Params, &params); err != nil {
		return Result{Rule: rule}, err
	}

	cutoff := e.now().Add(-time.Duration(params.WindowHours) * time.Hour)

	ips := make(map[string]struct{})
	if current.IPAddress != "" {
		ips[current.IPAddress] = struct{}{}
	}
	for i := range window {
		s := &window[i]
		if s.StartedAt.Before(cutoff) {
			continue
		}
		if s.IPAddress != "" {
			ips[s.IPAddress] = struct{}{}
		}
	}

	if len(ips) <= params.MaxIPs {
		return Result{Rule: rule}, nil
	}

	addrs := make([]string, 0, len(ips))
	for ip := range ips {
		addrs = append(addrs, ip)
	}
	sort.Strings(addrs)

	data, err := json.Marshal(DeviceVelocityData{
		DistinctIPCount: len(ips),
		MaxIPs:          params.MaxIPs,
		WindowHours:     params.WindowHours,
		IPAddresses:     addrs,
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
