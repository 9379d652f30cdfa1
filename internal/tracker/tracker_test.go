// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package tracker

import (
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

var base = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func ptrInt64(v int64) *int64 { return &v }

func ptrTime(t time.Time) *time.Time { return &t }

func TestAccumulatePause_Transitions(t *testing.T) {
	tests := []struct {
		name       string
		prev, next models.SessionState
		ps         PauseState
		now        time.Time
		wantPaused int64
		wantOpen   bool
	}{
		{
			name: "playing to paused records pause start",
			prev: models.StatePlaying, next: models.StatePaused,
			ps:         PauseState{PausedDurationMs: 5000},
			now:        base,
			wantPaused: 5000,
			wantOpen:   true,
		},
		{
			name: "paused to playing folds interval",
			prev: models.StatePaused, next: models.StatePlaying,
			ps:         PauseState{LastPausedAt: ptrTime(base), PausedDurationMs: 5000},
			now:        base.Add(90 * time.Second),
			wantPaused: 5000 + 90_000,
			wantOpen:   false,
		},
		{
			name: "playing to playing is a no-op",
			prev: models.StatePlaying, next: models.StatePlaying,
			ps:         PauseState{PausedDurationMs: 7000},
			now:        base,
			wantPaused: 7000,
			wantOpen:   false,
		},
		{
			name: "paused to paused is a no-op",
			prev: models.StatePaused, next: models.StatePaused,
			ps:         PauseState{LastPausedAt: ptrTime(base), PausedDurationMs: 7000},
			now:        base.Add(time.Hour),
			wantPaused: 7000,
			wantOpen:   true,
		},
		{
			name: "paused to playing with missing pause start is a no-op",
			prev: models.StatePaused, next: models.StatePlaying,
			ps:         PauseState{PausedDurationMs: 7000},
			now:        base,
			wantPaused: 7000,
			wantOpen:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AccumulatePause(tt.prev, tt.next, tt.ps, tt.now)
			if got.PausedDurationMs != tt.wantPaused {
				t.Errorf("PausedDurationMs = %d, want %d", got.PausedDurationMs, tt.wantPaused)
			}
			if (got.LastPausedAt != nil) != tt.wantOpen {
				t.Errorf("LastPausedAt open = %v, want %v", got.LastPausedAt != nil, tt.wantOpen)
			}
		})
	}
}

func TestAccumulatePause_MultipleCycles(t *testing.T) {
	// N complete pause/resume cycles accumulate the sum of each cycle's
	// resume_time - pause_time, regardless of interleaved no-ops.
	ps := PauseState{}
	now := base
	var wantTotal int64

	intervals := []time.Duration{15 * time.Second, 42 * time.Second, 3 * time.Minute}
	for _, iv := range intervals {
		// No-op transition between cycles must not disturb the accumulator.
		ps = AccumulatePause(models.StatePlaying, models.StatePlaying, ps, now)

		ps = AccumulatePause(models.StatePlaying, models.StatePaused, ps, now)
		now = now.Add(iv)
		ps = AccumulatePause(models.StatePaused, models.StatePaused, ps, now)
		ps = AccumulatePause(models.StatePaused, models.StatePlaying, ps, now)

		wantTotal += iv.Milliseconds()
		now = now.Add(time.Minute)
	}

	if ps.PausedDurationMs != wantTotal {
		t.Errorf("accumulated %d ms, want %d ms", ps.PausedDurationMs, wantTotal)
	}
	if ps.LastPausedAt != nil {
		t.Error("expected no open pause interval after complete cycles")
	}
}

func TestFinalizeDuration(t *testing.T) {
	tests := []struct {
		name       string
		in         FinalizeInput
		stoppedAt  time.Time
		wantDur    int64
		wantPaused int64
	}{
		{
			name:      "no pauses",
			in:        FinalizeInput{StartedAt: base},
			stoppedAt: base.Add(30 * time.Minute),
			wantDur:   30 * 60 * 1000,
		},
		{
			name: "completed pauses subtracted",
			in: FinalizeInput{
				StartedAt:        base,
				PausedDurationMs: 10 * 60 * 1000,
			},
			stoppedAt:  base.Add(time.Hour),
			wantDur:    50 * 60 * 1000,
			wantPaused: 10 * 60 * 1000,
		},
		{
			name: "open pause folded at stop",
			in: FinalizeInput{
				StartedAt:        base,
				LastPausedAt:     ptrTime(base.Add(40 * time.Minute)),
				PausedDurationMs: 5 * 60 * 1000,
			},
			stoppedAt:  base.Add(time.Hour),
			wantDur:    35 * 60 * 1000,
			wantPaused: 25 * 60 * 1000,
		},
		{
			name: "never negative when paused exceeds wall clock",
			in: FinalizeInput{
				StartedAt:        base,
				PausedDurationMs: 2 * 60 * 60 * 1000,
			},
			stoppedAt:  base.Add(time.Hour),
			wantDur:    0,
			wantPaused: 2 * 60 * 60 * 1000,
		},
		{
			name: "open pause in the future is ignored",
			in: FinalizeInput{
				StartedAt:    base,
				LastPausedAt: ptrTime(base.Add(2 * time.Hour)),
			},
			stoppedAt: base.Add(time.Hour),
			wantDur:   60 * 60 * 1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FinalizeDuration(tt.in, tt.stoppedAt)
			if got.DurationMs != tt.wantDur {
				t.Errorf("DurationMs = %d, want %d", got.DurationMs, tt.wantDur)
			}
			if got.FinalPausedDurationMs != tt.wantPaused {
				t.Errorf("FinalPausedDurationMs = %d, want %d", got.FinalPausedDurationMs, tt.wantPaused)
			}
		})
	}
}

func TestFinalizeDuration_MovieWithTwoBreaks(t *testing.T) {
	// A two-hour movie watched with pause breaks of 15 and 30 minutes:
	// wall clock 2h45m, final duration 120 minutes, paused total 45 minutes.
	ps := PauseState{}
	now := base.Add(40 * time.Minute)

	ps = AccumulatePause(models.StatePlaying, models.StatePaused, ps, now)
	now = now.Add(15 * time.Minute)
	ps = AccumulatePause(models.StatePaused, models.StatePlaying, ps, now)

	now = now.Add(50 * time.Minute)
	ps = AccumulatePause(models.StatePlaying, models.StatePaused, ps, now)
	now = now.Add(30 * time.Minute)
	ps = AccumulatePause(models.StatePaused, models.StatePlaying, ps, now)

	stoppedAt := base.Add(2*time.Hour + 45*time.Minute)
	got := FinalizeDuration(FinalizeInput{
		StartedAt:        base,
		LastPausedAt:     ps.LastPausedAt,
		PausedDurationMs: ps.PausedDurationMs,
	}, stoppedAt)

	if want := int64(120 * 60 * 1000); got.DurationMs != want {
		t.Errorf("DurationMs = %d, want %d", got.DurationMs, want)
	}
	if want := int64(45 * 60 * 1000); got.FinalPausedDurationMs != want {
		t.Errorf("FinalPausedDurationMs = %d, want %d", got.FinalPausedDurationMs, want)
	}
}

func TestIsWatchComplete(t *testing.T) {
	tests := []struct {
		name     string
		progress *int64
		total    *int64
		want     bool
	}{
		{"exact 80 percent boundary", ptrInt64(8000), ptrInt64(10000), true},
		{"just below boundary", ptrInt64(7999), ptrInt64(10000), false},
		{"full watch", ptrInt64(10000), ptrInt64(10000), true},
		{"nil progress", nil, ptrInt64(10000), false},
		{"nil total", ptrInt64(8000), nil, false},
		{"both nil", nil, nil, false},
		{"zero total", ptrInt64(8000), ptrInt64(0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWatchComplete(tt.progress, tt.total); got != tt.want {
				t.Errorf("IsWatchComplete(%v, %v) = %v, want %v", tt.progress, tt.total, got, tt.want)
			}
		})
	}
}

func TestResumeChainTarget(t *testing.T) {
	cutoff := base.Add(-24 * time.Hour)
	rootID := "root-session"

	tests := []struct {
		name        string
		prev        ChainCandidate
		newProgress int64
		want        *string
	}{
		{
			name: "resume of unchained session returns its own id",
			prev: ChainCandidate{
				ID:         "s1",
				ProgressMs: ptrInt64(30_000),
				StoppedAt:  ptrTime(base.Add(-time.Hour)),
			},
			newProgress: 30_000,
			want:        strPtr("s1"),
		},
		{
			name: "chained session returns the root, not itself",
			prev: ChainCandidate{
				ID:          "s2",
				ReferenceID: &rootID,
				ProgressMs:  ptrInt64(60_000),
				StoppedAt:   ptrTime(base.Add(-time.Hour)),
			},
			newProgress: 65_000,
			want:        strPtr(rootID),
		},
		{
			name: "watched previous terminates the chain",
			prev: ChainCandidate{
				ID:        "s1",
				Watched:   true,
				StoppedAt: ptrTime(base.Add(-time.Hour)),
			},
			newProgress: 90_000,
			want:        nil,
		},
		{
			name: "stop older than cutoff terminates the chain",
			prev: ChainCandidate{
				ID:         "s1",
				ProgressMs: ptrInt64(30_000),
				StoppedAt:  ptrTime(base.Add(-25 * time.Hour)),
			},
			newProgress: 30_000,
			want:        nil,
		},
		{
			name: "rewind is a new watch",
			prev: ChainCandidate{
				ID:         "s1",
				ProgressMs: ptrInt64(50_000),
				StoppedAt:  ptrTime(base.Add(-time.Hour)),
			},
			newProgress: 10_000,
			want:        nil,
		},
		{
			name: "previous still active is not resumable",
			prev: ChainCandidate{
				ID:         "s1",
				ProgressMs: ptrInt64(30_000),
			},
			newProgress: 30_000,
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResumeChainTarget(tt.prev, tt.newProgress, cutoff)
			switch {
			case got == nil && tt.want != nil:
				t.Errorf("got nil, want %q", *tt.want)
			case got != nil && tt.want == nil:
				t.Errorf("got %q, want nil", *got)
			case got != nil && tt.want != nil && *got != *tt.want:
				t.Errorf("got %q, want %q", *got, *tt.want)
			}
		})
	}
}

func TestResumeChainTarget_ChainCollapses(t *testing.T) {
	// S1 is the root; S2 resumed S1; S3 resuming S2 must point at S1.
	s1 := ChainCandidate{
		ID:         "s1",
		ProgressMs: ptrInt64(10_000),
		StoppedAt:  ptrTime(base.Add(-3 * time.Hour)),
	}
	cutoff := base.Add(-24 * time.Hour)

	s2Ref := ResumeChainTarget(s1, 12_000, cutoff)
	if s2Ref == nil || *s2Ref != "s1" {
		t.Fatalf("S2 reference = %v, want s1", s2Ref)
	}

	s2 := ChainCandidate{
		ID:          "s2",
		ReferenceID: s2Ref,
		ProgressMs:  ptrInt64(40_000),
		StoppedAt:   ptrTime(base.Add(-time.Hour)),
	}

	s3Ref := ResumeChainTarget(s2, 45_000, cutoff)
	if s3Ref == nil || *s3Ref != "s1" {
		t.Fatalf("S3 reference = %v, want s1 (the chain root, not s2)", s3Ref)
	}
}

func strPtr(s string) *string { return &s }
