// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package metrics exposes Prometheus instrumentation for the poll loop,
// the rule engine, violation creation, and the event bus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll loop metrics.
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_cycles_total",
			Help: "Total number of completed poll cycles per server",
		},
		[]string{"server"},
	)

	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_errors_total",
			Help: "Total number of failed poll cycles per server",
		},
		[]string{"server"},
	)

	PollSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_cycles_skipped_total",
			Help: "Poll ticks skipped because the previous cycle was still running",
		},
		[]string{"server"},
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poll_cycle_duration_seconds",
			Help:    "Duration of one poll cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Active sessions currently tracked per server",
		},
		[]string{"server"},
	)

	// Rule engine metrics.
	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluations_total",
			Help: "Rule evaluations per rule type",
		},
		[]string{"rule_type"},
	)

	ViolationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "violations_created_total",
			Help: "Violations stored per rule type and severity",
		},
		[]string{"rule_type", "severity"},
	)

	ViolationsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "violations_deduplicated_total",
			Help: "Violation candidates suppressed as duplicates per rule type",
		},
		[]string{"rule_type"},
	)

	// Event bus metrics.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Events enqueued on the internal bus per topic",
		},
		[]string{"topic"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Events dropped because the internal queue was full",
		},
		[]string{"topic"},
	)

	EventsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_forwarded_total",
			Help: "Events forwarded to the external broker per topic",
		},
		[]string{"topic"},
	)

	EventForwardErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_forward_errors_total",
			Help: "Failures forwarding events to the external broker per topic",
		},
		[]string{"topic"},
	)

	// Adapter metrics.
	AdapterRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_requests_total",
			Help: "Snapshot fetches per server and outcome",
		},
		[]string{"server", "outcome"},
	)

	// Scanner metrics.
	ScannerRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inactivity_scans_total",
			Help: "Completed inactivity scan cycles",
		},
	)

	TrustRecoveryRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trust_recovery_runs_total",
			Help: "Completed trust score recovery cycles",
		},
	)
)
