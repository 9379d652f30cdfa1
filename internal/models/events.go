// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import "time"

// Outbound event topics consumed by the external pub/sub collaborator.
const (
	TopicSessionStarted   = "session.started"
	TopicSessionUpdated   = "session.updated"
	TopicSessionStopped   = "session.stopped"
	TopicViolationCreated = "violation.created"
)

// SessionEvent is the payload for session lifecycle topics.
type SessionEvent struct {
	Session   Session   `json:"session"`
	Timestamp time.Time `json:"timestamp"`
}

// ViolationEvent is the payload for the violation-created topic.
type ViolationEvent struct {
	Violation Violation `json:"violation"`
	Timestamp time.Time `json:"timestamp"`
}
