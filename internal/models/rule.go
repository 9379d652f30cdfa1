// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// RuleType identifies the type of policy rule.
type RuleType string

const (
	// RuleTypeImpossibleTravel flags implausible geographic transitions
	// between sessions on different devices.
	RuleTypeImpossibleTravel RuleType = "impossible_travel"

	// RuleTypeSimultaneousLocations flags one account streaming from
	// multiple distinct locations at once.
	RuleTypeSimultaneousLocations RuleType = "simultaneous_locations"

	// RuleTypeDeviceVelocity flags accounts cycling through IPs or devices
	// faster than plausible.
	RuleTypeDeviceVelocity RuleType = "device_velocity"

	// RuleTypeConcurrentStreams enforces per-user stream limits.
	RuleTypeConcurrentStreams RuleType = "concurrent_streams"

	// RuleTypeGeoRestriction restricts streaming by country.
	RuleTypeGeoRestriction RuleType = "geo_restriction"

	// RuleTypeInactiveUser flags accounts with no activity past a
	// threshold. Driven by the inactivity scanner, not the poll path.
	RuleTypeInactiveUser RuleType = "inactive_user"
)

// MultiSession reports whether violations of this rule type depend on
// comparing several concurrently active sessions. Multi-session types
// require the named-lock dedup path; single-session types key on a unique
// triggering session and rely on the storage constraint as backstop.
func (t RuleType) MultiSession() bool {
	return t == RuleTypeConcurrentStreams || t == RuleTypeSimultaneousLocations
}

// Severity indicates how serious a violation is.
type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityWarning Severity = "warning"
	SeverityHigh    Severity = "high"
)

// TrustPenalty returns the trust-score decrement applied for a violation
// of this severity.
func (s Severity) TrustPenalty() int {
	switch s {
	case SeverityHigh:
		return 20
	case SeverityWarning:
		return 10
	case SeverityLow:
		return 5
	default:
		return 10
	}
}

// Rule is a configured policy. Params holds the raw type-specific
// parameters; the rules package decodes them into a validated per-type
// struct dispatched on Type.
type Rule struct {
	ID   string   `json:"id"`
	Type RuleType `json:"type"`

	Params json.RawMessage `json:"params"`

	// ServerUserID scopes the rule to one user; nil applies to all users.
	ServerUserID *string `json:"server_user_id,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppliesTo reports whether the rule applies to the given server user.
func (r *Rule) AppliesTo(serverUserID string) bool {
	return r.ServerUserID == nil || *r.ServerUserID == serverUserID
}
