// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package adapter defines the media-server snapshot contract and the
// resilience wrapper the pollers fetch through.
package adapter

import (
	"context"
	"errors"

	"github.com/streamwarden/streamwarden/internal/models"
)

// ErrUnavailable is returned when the circuit breaker is open or the
// server cannot be reached. Pollers treat it as a transient cycle skip.
var ErrUnavailable = errors.New("media server unavailable")

// Source fetches the active playback snapshot from one media server.
// Implementations live outside the core (Plex, Jellyfin, Emby, Tautulli
// clients); the poller only sees this contract.
type Source interface {
	// Snapshot returns every currently active playback on the server.
	// A missing session implies it stopped since the previous call.
	Snapshot(ctx context.Context) ([]models.SessionSnapshot, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]models.SessionSnapshot, error)

func (f SourceFunc) Snapshot(ctx context.Context) ([]models.SessionSnapshot, error) {
	return f(ctx)
}
