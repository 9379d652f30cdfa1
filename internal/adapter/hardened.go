// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
)

// HardenedConfig tunes the resilience wrapper.
type HardenedConfig struct {
	// RatePerSecond caps snapshot fetches against the upstream server.
	RatePerSecond float64
	Burst         int

	// BreakerOpenAfter consecutive failures open the circuit for
	// BreakerCooldown.
	BreakerOpenAfter uint32
	BreakerCooldown  time.Duration
}

func (c *HardenedConfig) withDefaults() {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 2
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerOpenAfter == 0 {
		c.BreakerOpenAfter = 5
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// Hardened wraps a Source with a rate limiter and a circuit breaker so a
// slow or dead media server degrades to skipped cycles instead of piling
// up requests.
type Hardened struct {
	serverName string
	source     Source
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]models.SessionSnapshot]
}

// NewHardened builds the wrapper around source. serverName labels metrics
// and the breaker.
func NewHardened(serverName string, source Source, cfg HardenedConfig) *Hardened {
	cfg.withDefaults()
	return &Hardened{
		serverName: serverName,
		source:     source,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker[[]models.SessionSnapshot](gobreaker.Settings{
			Name:    "adapter-" + serverName,
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerOpenAfter
			},
		}),
	}
}

// Snapshot fetches through the limiter and breaker. An open circuit or
// rejected wait surfaces as ErrUnavailable.
func (h *Hardened) Snapshot(ctx context.Context) ([]models.SessionSnapshot, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		metrics.AdapterRequests.WithLabelValues(h.serverName, "rate_limited").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	snap, err := h.breaker.Execute(func() ([]models.SessionSnapshot, error) {
		return h.source.Snapshot(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.AdapterRequests.WithLabelValues(h.serverName, "breaker_open").Inc()
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		metrics.AdapterRequests.WithLabelValues(h.serverName, "error").Inc()
		return nil, err
	}

	metrics.AdapterRequests.WithLabelValues(h.serverName, "ok").Inc()
	return snap, nil
}
