// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// validate is the shared validator instance for rule parameters.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ConcurrentStreamsParams configures the concurrent_streams rule.
type ConcurrentStreamsParams struct {
	// MaxStreams is the maximum number of simultaneous streams allowed.
	MaxStreams int `json:"max_streams" validate:"min=1"`

	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// SimultaneousLocationsParams configures the simultaneous_locations rule.
type SimultaneousLocationsParams struct {
	// MaxLocations is the maximum number of distinct approximate locations
	// an account may stream from at once.
	MaxLocations int `json:"max_locations" validate:"min=1"`

	// MinDistanceKm triggers on any pair of active sessions at least this
	// far apart, regardless of the location count. Zero disables the
	// distance check.
	MinDistanceKm float64 `json:"min_distance_km" validate:"min=0"`

	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// DeviceVelocityParams configures the device_velocity rule.
type DeviceVelocityParams struct {
	// MaxIPs is the maximum count of distinct non-empty IP addresses
	// allowed within the window.
	MaxIPs int `json:"max_ips" validate:"min=1"`

	// WindowHours is the lookback window.
	WindowHours int `json:"window_hours" validate:"min=1"`

	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// ImpossibleTravelParams configures the impossible_travel rule.
type ImpossibleTravelParams struct {
	// MaxSpeedKmh is the maximum plausible travel speed.
	MaxSpeedKmh float64 `json:"max_speed_kmh" validate:"gt=0"`

	// MinDistanceKm ignores transitions shorter than this, avoiding false
	// positives from nearby locations and GeoIP jitter.
	MinDistanceKm float64 `json:"min_distance_km" validate:"min=0"`

	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// GeoRestrictionMode selects allow-list or block-list behavior.
type GeoRestrictionMode string

const (
	GeoModeAllow GeoRestrictionMode = "allow"
	GeoModeBlock GeoRestrictionMode = "block"
)

// GeoRestrictionParams configures the geo_restriction rule.
type GeoRestrictionParams struct {
	Mode GeoRestrictionMode `json:"mode" validate:"oneof=allow block"`

	// Countries is the ISO 3166-1 alpha-2 list interpreted per Mode.
	Countries []string `json:"countries" validate:"min=1,dive,len=2"`

	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// InactiveUserParams configures the inactive_user rule.
type InactiveUserParams struct {
	// InactiveDays is the activity threshold.
	InactiveDays int `json:"inactive_days" validate:"min=1"`

	// StickyAcknowledgement suppresses re-flagging a user already
	// acknowledged at their current last-activity timestamp until that
	// timestamp changes.
	StickyAcknowledgement bool `json:"sticky_acknowledgement"`

	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// defaultSeverities maps each rule type to the severity used when the
// configured params leave it empty.
var defaultSeverities = map[models.RuleType]models.Severity{
	models.RuleTypeImpossibleTravel:      models.SeverityHigh,
	models.RuleTypeSimultaneousLocations: models.SeverityHigh,
	models.RuleTypeConcurrentStreams:     models.SeverityWarning,
	models.RuleTypeDeviceVelocity:        models.SeverityWarning,
	models.RuleTypeGeoRestriction:        models.SeverityWarning,
	models.RuleTypeInactiveUser:          models.SeverityLow,
}

// severityOrDefault resolves an optional configured severity.
func severityOrDefault(configured models.Severity, ruleType models.RuleType) models.Severity {
	if configured != "" {
		return configured
	}
	return defaultSeverities[ruleType]
}

// decodeParams unmarshals and validates raw rule parameters into the
// destination params struct for one rule type.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing rule params")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode rule params: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid rule params: %w", err)
	}
	return nil
}
