// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// Reference coordinates used across the geo tests.
const (
	nycLat, nycLon       = 40.7128, -74.0060
	londonLat, londonLon = 51.5074, -0.1278
	brooklynLat          = 40.6782
	brooklynLon          = -73.9442
)

func locatedSession(id, userID, deviceID string, lat, lon float64, startedAt time.Time) models.Session {
	s := activeSession(id, userID)
	s.DeviceID = deviceID
	s.Latitude = lat
	s.Longitude = lon
	s.StartedAt = startedAt
	return s
}

func TestEvaluate_ImpossibleTravel(t *testing.T) {
	rule := mustRule(t, models.RuleTypeImpossibleTravel,
		`{"max_speed_kmh": 900, "min_distance_km": 100}`)

	tests := []struct {
		name    string
		current models.Session
		recent  []models.Session
		want    bool
	}{
		{
			name:    "NYC to London in 30 minutes on different devices",
			current: locatedSession("cur", "u1", "dev-b", londonLat, londonLon, testNow),
			recent: []models.Session{
				locatedSession("prev", "u1", "dev-a", nycLat, nycLon, testNow.Add(-30*time.Minute)),
			},
			want: true,
		},
		{
			name:    "same device jump is roaming, not travel",
			current: locatedSession("cur", "u1", "dev-a", londonLat, londonLon, testNow),
			recent: []models.Session{
				locatedSession("prev", "u1", "dev-a", nycLat, nycLon, testNow.Add(-30*time.Minute)),
			},
			want: false,
		},
		{
			name:    "two empty device ids are distinct devices",
			current: locatedSession("cur", "u1", "", londonLat, londonLon, testNow),
			recent: []models.Session{
				locatedSession("prev", "u1", "", nycLat, nycLon, testNow.Add(-30*time.Minute)),
			},
			want: true,
		},
		{
			name:    "plausible travel time",
			current: locatedSession("cur", "u1", "dev-b", londonLat, londonLon, testNow),
			recent: []models.Session{
				locatedSession("prev", "u1", "dev-a", nycLat, nycLon, testNow.Add(-10*time.Hour)),
			},
			want: false,
		},
		{
			name:    "short hop below min distance",
			current: locatedSession("cur", "u1", "dev-b", brooklynLat, brooklynLon, testNow),
			recent: []models.Session{
				locatedSession("prev", "u1", "dev-a", nycLat, nycLon, testNow.Add(-time.Minute)),
			},
			want: false,
		},
		{
			name:    "unknown current location skips the rule",
			current: locatedSession("cur", "u1", "dev-b", 0, 0, testNow),
			recent: []models.Session{
				locatedSession("prev", "u1", "dev-a", nycLat, nycLon, testNow.Add(-30*time.Minute)),
			},
			want: false,
		},
		{
			name:    "unknown previous location skips that pair",
			current: locatedSession("cur", "u1", "dev-b", londonLat, londonLon, testNow),
			recent: []models.Session{
				locatedSession("prev", "u1", "dev-a", 0, 0, testNow.Add(-30*time.Minute)),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := testEngine().Evaluate(&tt.current, []models.Rule{rule}, tt.recent)
			if got := len(results) > 0; got != tt.want {
				t.Errorf("violated = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_ImpossibleTravelPayload(t *testing.T) {
	rule := mustRule(t, models.RuleTypeImpossibleTravel,
		`{"max_speed_kmh": 900, "min_distance_km": 100}`)

	current := locatedSession("cur", "u1", "dev-b", londonLat, londonLon, testNow)
	current.City = "London"
	current.CountryCode = "GB"
	prev := locatedSession("prev", "u1", "dev-a", nycLat, nycLon, testNow.Add(-30*time.Minute))
	prev.City = "New York"
	prev.CountryCode = "US"

	results := testEngine().Evaluate(&current, []models.Rule{rule}, []models.Session{prev})
	if len(results) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(results))
	}

	var data ImpossibleTravelData
	if err := json.Unmarshal(results[0].Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if data.FromSessionID != "prev" {
		t.Errorf("from_session_id = %q", data.FromSessionID)
	}
	// NYC to London is roughly 5570 km; in half an hour that needs over
	// 11000 km/h.
	if data.DistanceKm < 5500 || data.DistanceKm > 5650 {
		t.Errorf("distance_km = %v, want ~5570", data.DistanceKm)
	}
	if data.RequiredSpeedKmh < 11000 {
		t.Errorf("required_speed_kmh = %v, want > 11000", data.RequiredSpeedKmh)
	}
	if results[0].RelatedSessionIDs != nil {
		t.Error("single-session rule type must not carry related session ids")
	}
}

func TestEvaluate_SimultaneousLocations(t *testing.T) {
	rule := mustRule(t, models.RuleTypeSimultaneousLocations,
		`{"max_locations": 1, "min_distance_km": 50}`)

	tests := []struct {
		name    string
		current models.Session
		recent  []models.Session
		want    bool
	}{
		{
			name:    "same city twice",
			current: locatedSession("cur", "u1", "dev-a", nycLat, nycLon, testNow),
			recent: []models.Session{
				locatedSession("r1", "u1", "dev-b", nycLat+0.01, nycLon-0.01, testNow),
			},
			want: false,
		},
		{
			name:    "two cities at once",
			current: locatedSession("cur", "u1", "dev-a", nycLat, nycLon, testNow),
			recent: []models.Session{
				locatedSession("r1", "u1", "dev-b", londonLat, londonLon, testNow),
			},
			want: true,
		},
		{
			name:    "unknown locations do not count",
			current: locatedSession("cur", "u1", "dev-a", nycLat, nycLon, testNow),
			recent: []models.Session{
				locatedSession("r1", "u1", "dev-b", 0, 0, testNow),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := testEngine().Evaluate(&tt.current, []models.Rule{rule}, tt.recent)
			if got := len(results) > 0; got != tt.want {
				t.Errorf("violated = %v, want %v", got, tt.want)
			}
			if tt.want {
				var data SimultaneousLocationsData
				if err := json.Unmarshal(results[0].Data, &data); err != nil {
					t.Fatalf("unmarshal payload: %v", err)
				}
				if len(data.RelatedSessionIDs) != len(tt.recent) {
					t.Errorf("related ids = %d, want %d", len(data.RelatedSessionIDs), len(tt.recent))
				}
			}
		})
	}
}

func TestEvaluate_DeviceVelocity(t *testing.T) {
	rule := mustRule(t, models.RuleTypeDeviceVelocity,
		`{"max_ips": 2, "window_hours": 6}`)

	withIP := func(id, ip string, age time.Duration) models.Session {
		s := activeSession(id, "u1")
		s.IPAddress = ip
		s.StartedAt = testNow.Add(-age)
		return s
	}

	tests := []struct {
		name    string
		current models.Session
		recent  []models.Session
		want    bool
	}{
		{
			name:    "distinct ips within limit",
			current: withIP("cur", "203.0.113.1", 0),
			recent: []models.Session{
				withIP("r1", "203.0.113.2", time.Hour),
			},
			want: false,
		},
		{
			name:    "too many distinct ips",
			current: withIP("cur", "203.0.113.1", 0),
			recent: []models.Session{
				withIP("r1", "203.0.113.2", time.Hour),
				withIP("r2", "203.0.113.3", 2*time.Hour),
			},
			want: true,
		},
		{
			name:    "repeat ips collapse",
			current: withIP("cur", "203.0.113.1", 0),
			recent: []models.Session{
				withIP("r1", "203.0.113.1", time.Hour),
				withIP("r2", "203.0.113.2", 2*time.Hour),
			},
			want: false,
		},
		{
			name:    "empty ips are unknown, not wildcards",
			current: withIP("cur", "203.0.113.1", 0),
			recent: []models.Session{
				withIP("r1", "", time.Hour),
				withIP("r2", "", 2*time.Hour),
			},
			want: false,
		},
		{
			name:    "sessions outside the window do not count",
			current: withIP("cur", "203.0.113.1", 0),
			recent: []models.Session{
				withIP("r1", "203.0.113.2", time.Hour),
				withIP("r2", "203.0.113.3", 10*time.Hour),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := testEngine().Evaluate(&tt.current, []models.Rule{rule}, tt.recent)
			if got := len(results) > 0; got != tt.want {
				t.Errorf("violated = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_GeoRestriction(t *testing.T) {
	tests := []struct {
		name    string
		params  string
		country string
		want    bool
	}{
		{"block mode hit", `{"mode": "block", "countries": ["RU", "KP"]}`, "RU", true},
		{"block mode miss", `{"mode": "block", "countries": ["RU", "KP"]}`, "DE", false},
		{"allow mode hit", `{"mode": "allow", "countries": ["US", "CA"]}`, "US", false},
		{"allow mode miss", `{"mode": "allow", "countries": ["US", "CA"]}`, "FR", true},
		{"case insensitive", `{"mode": "block", "countries": ["ru"]}`, "RU", true},
		{"unknown country never violates", `{"mode": "allow", "countries": ["US"]}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := activeSession("cur", "u1")
			current.CountryCode = tt.country

			rule := mustRule(t, models.RuleTypeGeoRestriction, tt.params)
			results := testEngine().Evaluate(&current, []models.Rule{rule}, nil)
			if got := len(results) > 0; got != tt.want {
				t.Errorf("violated = %v, want %v", got, tt.want)
			}
		})
	}
}
