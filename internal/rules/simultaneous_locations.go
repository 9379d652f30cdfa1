// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// locationKey buckets coordinates into an approximate location. One decimal
// degree of rounding (~11km at the equator) groups sessions in the same
// city while keeping different cities distinct.
func locationKey(lat, lon float64) string {
	return fmt.Sprintf("%.1f,%.1f", lat, lon)
}

// evaluateSimultaneousLocations flags an account streaming from too many
// distinct locations at once, or from any two locations far enough apart.
// Sessions with unknown coordinates are left out of both checks; a missing
// geo lookup must not fabricate a location.
func evaluateSimultaneousLocations(current *models.Session, rule *models.Rule, window []models.Session) (Result, error) {
	var params SimultaneousLocationsParams
	if err := decodeParams(rule.Params, &params); err != nil {
		return Result{Rule: rule}, err
	}

	type located struct {
		id       string
		lat, lon float64
	}

	sessions := make([]located, 0, len(window)+1)
	if !IsUnknownLocation(current.Latitude, current.Longitude) {
		sessions = append(sessions, located{current.ID, current.Latitude, current.Longitude})
	}
	for i := range window {
		s := &window[i]
		if IsUnknownLocation(s.Latitude, s.Longitude) {
			continue
		}
		sessions = append(sessions, located{s.ID, s.Latitude, s.Longitude})
	}

	locations := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		locations[locationKey(s.lat, s.lon)] = struct{}{}
	}

	var maxPairKm float64
	for i := 0; i < len(sessions); i++ {
		for j := i + 1; j < len(sessions); j++ {
			d := HaversineKm(sessions[i].lat, sessions[i].lon, sessions[j].lat, sessions[j].lon)
			if d > maxPairKm {
				maxPairKm = d
			}
		}
	}

	tooManyLocations := len(locations) > params.MaxLocations
	tooFarApart := params.MinDistanceKm > 0 && maxPairKm >= params.MinDistanceKm
	if !tooManyLocations && !tooFarApart {
		return Result{Rule: rule}, nil
	}

	related := make([]string, 0, len(window))
	for i := range window {
		related = append(related, window[i].ID)
	}

	keys := make([]string, 0, len(locations))
	for k := range locations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data, err := json.Marshal(SimultaneousLocationsData{
		LocationCount:     len(locations),
		MaxLocations:      params.MaxLocations,
		MaxPairDistanceKm: roundTo2Decimals(maxPairKm),
		Locations:         keys,
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
