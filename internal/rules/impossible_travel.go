// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// evaluateImpossibleTravel compares the current session against each recent
// session on a different device and flags transitions whose implied speed
// exceeds the limit. Same-device jumps (mobile roaming, VPN switching) are
// expected and excluded, and because an empty device id never matches
// anything, a session with an unknown device is always treated as a
// different device. Single-session rule type.
func evaluateImpossibleTravel(current *models.Session, rule *models.Rule, window []models.Session) (Result, error) {
	var params ImpossibleTravelParams
	if err := decodeParams(rule.Params, &params); err != nil {
		return Result{Rule: rule}, err
	}

	if IsUnknownLocation(current.Latitude, current.Longitude) {
		return Result{Rule: rule}, nil
	}

	for i := range window {
		prev := &window[i]
		if sameIdentifier(current.DeviceID, prev.DeviceID) {
			continue
		}
		if IsUnknownLocation(prev.Latitude, prev.Longitude) {
			continue
		}

		distanceKm := HaversineKm(prev.Latitude, prev.Longitude, current.Latitude, current.Longitude)
		if distanceKm < params.MinDistanceKm {
			continue
		}

		elapsed := current.StartedAt.Sub(prev.StartedAt)
		if elapsed < 0 {
			continue
		}

		// Epsilon guard: a near-zero elapsed time would divide to an
		// absurd speed from float noise alone; clamp to one second.
		elapsedHours := elapsed.Hours()
		if math.Abs(elapsedHours) < 1e-9 {
			elapsedHours = 1.0 / 3600.0
		}

		speedKmh := distanceKm / elapsedHours
		if speedKmh <= params.MaxSpeedKmh {
			continue
		}

		data, err := json.Marshal(ImpossibleTravelData{
			FromSessionID:    prev.ID,
			FromCity:         prev.City,
			FromCountryCode:  prev.CountryCode,
			ToCity:           current.City,
			ToCountryCode:    current.CountryCode,
			DistanceKm:       roundTo2Decimals(distanceKm),
			ElapsedMinutes:   roundTo2Decimals(elapsed.Minutes()),
			RequiredSpeedKmh: roundTo2Decimals(speedKmh),
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

	return Result{Rule: rule}, nil
}
