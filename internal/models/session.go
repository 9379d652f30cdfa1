// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import "time"

// SessionState is the playback state reported by the media server.
//
// State is a hint only: cached snapshots can still report "playing" for a
// session that has already ended. StoppedAt is the authoritative signal for
// whether a session is active; nothing may override a non-nil StoppedAt.
type SessionState string

const (
	StatePlaying SessionState = "playing"
	StatePaused  SessionState = "paused"
	StateStopped SessionState = "stopped"
)

// Session is one playback attempt on a media server.
type Session struct {
	ID                string  `json:"id"`
	ServerID          string  `json:"server_id"`
	ServerUserID      string  `json:"server_user_id"`
	SessionKey        string  `json:"session_key"`
	ExternalSessionID *string `json:"external_session_id,omitempty"`

	State        SessionState `json:"state"`
	StartedAt    time.Time    `json:"started_at"`
	StoppedAt    *time.Time   `json:"stopped_at,omitempty"`
	LastPausedAt *time.Time   `json:"last_paused_at,omitempty"`

	// PausedDurationMs accumulates completed pause intervals only; it is
	// monotonically non-decreasing and changes only on a paused→playing
	// transition or at stop while still paused.
	PausedDurationMs int64 `json:"paused_duration_ms"`

	// DurationMs is the final watch time, set exactly once at stop.
	DurationMs *int64 `json:"duration_ms,omitempty"`

	ProgressMs      *int64 `json:"progress_ms,omitempty"`
	TotalDurationMs *int64 `json:"total_duration_ms,omitempty"`
	Watched         bool   `json:"watched"`

	// ReferenceID points to the original session of a resume chain, not
	// necessarily the immediately preceding one.
	ReferenceID *string `json:"reference_id,omitempty"`

	// Device / network context, used as rule inputs.
	DeviceID  string `json:"device_id,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Product   string `json:"product,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	// Geolocation, resolved by the lookup collaborator before evaluation.
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`

	// Quality context.
	VideoDecision string `json:"video_decision,omitempty"`
	Bitrate       int    `json:"bitrate,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the session is still active. Only StoppedAt
// decides this; the State field is never consulted.
func (s *Session) IsActive() bool {
	return s.StoppedAt == nil
}

// SessionSnapshot is one active playback as reported by a media-server
// adapter. Geolocation fields are already enriched by the lookup
// collaborator; missing fields arrive as zero values and degrade to
// "unknown" rather than failing evaluation.
type SessionSnapshot struct {
	SessionKey        string
	ExternalSessionID string
	ServerUserID      string
	Username          string

	State           SessionState
	ProgressMs      *int64
	TotalDurationMs *int64

	DeviceID  string
	Platform  string
	Product   string
	IPAddress string

	City        string
	Region      string
	CountryCode string
	Latitude    float64
	Longitude   float64

	VideoDecision string
	Bitrate       int
}

// MediaServer is one monitored media server instance.
type MediaServer struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Type                string    `json:"type"` // plex, jellyfin, emby
	URL                 string    `json:"url"`
	Enabled             bool      `json:"enabled"`
	PollIntervalSeconds int       `json:"poll_interval_seconds"`
	CreatedAt           time.Time `json:"created_at"`
}

// ServerUser is a media-server account being monitored.
type ServerUser struct {
	ID             string     `json:"id"`
	ServerID       string     `json:"server_id"`
	Username       string     `json:"username"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	// TrustScore is a 0-100 reputation value decremented by violation
	// severity. Adjustments are atomic SQL increments, never
	// read-modify-write.
	TrustScore int       `json:"trust_score"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
