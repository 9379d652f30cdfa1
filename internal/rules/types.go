// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"math"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// CoordinateEpsilon is the threshold for considering coordinates as
// effectively zero. A coordinate pair is "unknown" (sentinel 0,0) if both
// latitude and longitude are within this epsilon of zero. 1e-7 degrees is
// about 1.1cm at the equator, well below GeoIP resolution, but gives a
// reliable float comparison.
const CoordinateEpsilon = 1e-7

// IsUnknownLocation reports whether the coordinates are the unknown-location
// sentinel. Epsilon comparison avoids direct float equality on (0, 0).
func IsUnknownLocation(lat, lon float64) bool {
	return math.Abs(lat) < CoordinateEpsilon && math.Abs(lon) < CoordinateEpsilon
}

// HaversineKm is the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// sameIdentifier compares two device or IP identifiers. An empty string is
// a distinct, unmatched value: two empty identifiers never compare equal,
// so a missing identifier can never suppress a real duplicate count.
func sameIdentifier(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b
}

// Result is one rule evaluation outcome. The source rule is attached so
// that when several rules fire in one pass each result stays attributable
// to the rule that produced it.
type Result struct {
	Violated bool
	Severity models.Severity

	// Data is the rule-specific violation payload, already marshaled.
	Data json.RawMessage

	// RelatedSessionIDs is populated for multi-session rule types only and
	// feeds the set-intersection dedup check.
	RelatedSessionIDs []string

	Rule *models.Rule
}

// Violation payloads. Multi-session payloads embed related_session_ids so
// the deduplicator can intersect session sets across racing evaluations.

// ConcurrentStreamsData is the payload for concurrent_streams violations.
type ConcurrentStreamsData struct {
	ActiveStreamCount int      `json:"active_stream_count"`
	MaxStreams        int      `json:"max_streams"`
	RelatedSessionIDs []string `json:"related_session_ids"`
}

// SimultaneousLocationsData is the payload for simultaneous_locations
// violations.
type SimultaneousLocationsData struct {
	LocationCount     int      `json:"location_count"`
	MaxLocations      int      `json:"max_locations"`
	MaxPairDistanceKm float64  `json:"max_pair_distance_km"`
	Locations         []string `json:"locations,omitempty"`
	RelatedSessionIDs []string `json:"related_session_ids"`
}

// DeviceVelocityData is the payload for device_velocity violations.
type DeviceVelocityData struct {
	DistinctIPCount int      `json:"distinct_ip_count"`
	MaxIPs          int      `json:"max_ips"`
	WindowHours     int      `json:"window_hours"`
	IPAddresses     []string `json:"ip_addresses"`
}

// ImpossibleTravelData is the payload for impossible_travel violations.
type ImpossibleTravelData struct {
	FromSessionID    string  `json:"from_session_id"`
	FromCity         string  `json:"from_city,omitempty"`
	FromCountryCode  string  `json:"from_country_code,omitempty"`
	ToCity           string  `json:"to_city,omitempty"`
	ToCountryCode    string  `json:"to_country_code,omitempty"`
	DistanceKm       float64 `json:"distance_km"`
	ElapsedMinutes   float64 `json:"elapsed_minutes"`
	RequiredSpeedKmh float64 `json:"required_speed_kmh"`
}

// GeoRestrictionData is the payload for geo_restriction violations.
type GeoRestrictionData struct {
	CountryCode string   `json:"country_code"`
	Mode        string   `json:"mode"`
	Countries   []string `json:"countries"`
}

// InactiveUserData is the payload for inactive_user violations. The
// last-activity timestamp recorded here drives sticky acknowledgement: an
// acknowledged violation carrying the user's current timestamp suppresses
// re-flagging until the user streams again.
type InactiveUserData struct {
	LastActivityAt string `json:"last_activity_at"`
	InactiveDays   int    `json:"inactive_days"`
}

// roundTo2Decimals rounds a float64 to 2 decimal places for payloads.
func roundTo2Decimals(f float64) float64 {
	return math.Round(f*100) / 100
}
