// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

func TestHardenedPassesThrough(t *testing.T) {
	want := []models.SessionSnapshot{{SessionKey: "k1", Username: "alice"}}
	h := NewHardened("srv1", SourceFunc(func(ctx context.Context) ([]models.SessionSnapshot, error) {
		return want, nil
	}), HardenedConfig{RatePerSecond: 1000, Burst: 10})

	got, err := h.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(got) != 1 || got[0].SessionKey != "k1" {
		t.Fatalf("snapshot = %+v, want %+v", got, want)
	}
}

func TestHardenedBreakerOpensAfterFailures(t *testing.T) {
	boom := errors.New("boom")
	h := NewHardened("srv1", SourceFunc(func(ctx context.Context) ([]models.SessionSnapshot, error) {
		return nil, boom
	}), HardenedConfig{
		RatePerSecond:    1000,
		Burst:            10,
		BreakerOpenAfter: 3,
		BreakerCooldown:  time.Minute,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := h.Snapshot(ctx); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: err = %v, want underlying failure", i, err)
		}
	}

	// Circuit is open now; the source error is replaced by ErrUnavailable.
	if _, err := h.Snapshot(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable once open", err)
	}
}

func TestHardenedRateLimitCancellation(t *testing.T) {
	h := NewHardened("srv1", SourceFunc(func(ctx context.Context) ([]models.SessionSnapshot, error) {
		return nil, nil
	}), HardenedConfig{RatePerSecond: 0.001, Burst: 1})

	ctx := context.Background()
	if _, err := h.Snapshot(ctx); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}

	// Second call would wait ~1000s; a cancelled context surfaces as
	// ErrUnavailable instead of blocking.
	cancelled, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := h.Snapshot(cancelled); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable on cancelled wait", err)
	}
}
