// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package tracker implements the session lifecycle computations: pause
// accumulation, final duration, watch completion, and resume chaining.
//
// Every function here is pure and deterministic over explicit inputs.
// The poller owns all persistence; tracker never touches state.
package tracker

import (
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

// WatchCompleteThreshold is the fraction of total duration at which a
// session counts as watched. The boundary is inclusive.
const WatchCompleteThreshold = 0.80

// DefaultChainWindow is how long after a stop a new session can still
// resume the chain.
const DefaultChainWindow = 24 * time.Hour

// PauseState is the pause-tracking portion of a session.
type PauseState struct {
	LastPausedAt     *time.Time
	PausedDurationMs int64
}

// AccumulatePause applies a state transition to the pause accumulator.
//
// On playing→paused the pause start is recorded and the accumulator is left
// unchanged. On paused→playing the completed interval is folded into the
// accumulator and the pause start cleared. Every other transition pair,
// including playing→playing and paused→paused, is a pass-through.
func AccumulatePause(prev, next models.SessionState, ps PauseState, now time.Time) PauseState {
	switch {
	case prev == models.StatePlaying && next == models.StatePaused:
		pausedAt := now
		ps.LastPausedAt = &pausedAt
	case prev == models.StatePaused && next == models.StatePlaying:
		if ps.LastPausedAt != nil {
			ps.PausedDurationMs += now.Sub(*ps.LastPausedAt).Milliseconds()
			ps.LastPausedAt = nil
		}
	}
	return ps
}

// FinalizeInput carries the fields needed to compute a session's final
// duration at stop time.
type FinalizeInput struct {
	StartedAt        time.Time
	LastPausedAt     *time.Time
	PausedDurationMs int64
}

// FinalizeResult is the outcome of finalizing a session.
type FinalizeResult struct {
	DurationMs            int64
	FinalPausedDurationMs int64
}

// FinalizeDuration computes the final watch time at stop. A session still
// paused at stop time first folds the open pause interval into the
// accumulator. The result is clamped at zero: clock skew or bad data can
// make the paused total exceed wall-clock elapsed time, and duration must
// never go negative.
func FinalizeDuration(in FinalizeInput, stoppedAt time.Time) FinalizeResult {
	paused := in.PausedDurationMs
	if in.LastPausedAt != nil {
		open := stoppedAt.Sub(*in.LastPausedAt).Milliseconds()
		if open > 0 {
			paused += open
		}
	}

	duration := stoppedAt.Sub(in.StartedAt).Milliseconds() - paused
	if duration < 0 {
		duration = 0
	}

	return FinalizeResult{
		DurationMs:            duration,
		FinalPausedDurationMs: paused,
	}
}

// IsWatchComplete reports whether playback progressed far enough to count
// as watched. Nil progress or total means unknown, never watched. The 80%
// boundary is inclusive.
func IsWatchComplete(progressMs, totalDurationMs *int64) bool {
	if progressMs == nil || totalDurationMs == nil || *totalDurationMs <= 0 {
		return false
	}
	return float64(*progressMs)/float64(*totalDurationMs) >= WatchCompleteThreshold
}

// ChainCandidate is the slice of a previous session consulted when
// deciding whether a new session resumes it.
type ChainCandidate struct {
	ID          string
	ReferenceID *string
	ProgressMs  *int64
	Watched     bool
	StoppedAt   *time.Time
}

// ResumeChainTarget decides whether a new session continues the previous
// one, and if so returns the root id of the chain.
//
// Returns nil when the previous session was watched to completion, when it
// stopped before the cutoff, or when the new progress is behind the
// previous progress (a rewind is a new watch, not a resume). Otherwise the
// chain root is the previous session's ReferenceID when set, else the
// previous session's own id, so a chain of any length collapses to a
// single root.
func ResumeChainTarget(prev ChainCandidate, newProgressMs int64, cutoff time.Time) *string {
	if prev.Watched {
		return nil
	}
	if prev.StoppedAt == nil || prev.StoppedAt.Before(cutoff) {
		return nil
	}
	if prev.ProgressMs != nil && newProgressMs < *prev.ProgressMs {
		return nil
	}

	if prev.ReferenceID != nil {
		ref := *prev.ReferenceID
		return &ref
	}
	id := prev.ID
	return &id
}
