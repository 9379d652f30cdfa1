// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package rules evaluates sessions against configured policy rules.
//
// Evaluation is synchronous and pure over its inputs: the triggering
// session, the configured rules, and a window of recently seen sessions
// for the same user. Persistence and deduplication live elsewhere.
package rules

import (
	"time"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
)

// Engine evaluates a session against a set of configured rules.
type Engine struct {
	now func() time.Time
}

// NewEngine creates a rule engine using wall-clock time.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock creates a rule engine with an injected clock, for
// deterministic tests.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Evaluate runs every applicable rule against the current session and
// returns the results that violated. Rules with malformed parameters are
// logged and skipped; one bad rule never blocks the rest of the pass.
func (e *Engine) Evaluate(current *models.Session, ruleSet []models.Rule, recent []models.Session) []Result {
	window := filterRecent(current, recent)

	var results []Result
	for i := range ruleSet {
		rule := &ruleSet[i]
		if !rule.IsActive || !rule.AppliesTo(current.ServerUserID) {
			continue
		}

		metrics.RuleEvaluations.WithLabelValues(string(rule.Type)).Inc()
		res, err := e.evaluateRule(current, rule, window)
		if err != nil {
			logging.Warn().Err(err).
				Str("rule_id", rule.ID).
				Str("rule_type", string(rule.Type)).
				Msg("skipping rule")
			continue
		}
		if res.Violated {
			results = append(results, res)
		}
	}
	return results
}

// evaluateRule dispatches one rule to its per-type evaluator.
func (e *Engine) evaluateRule(current *models.Session, rule *models.Rule, window []models.Session) (Result, error) {
	switch rule.Type {
	case models.RuleTypeConcurrentStreams:
		return evaluateConcurrentStreams(current, rule, window)
	case models.RuleTypeSimultaneousLocations:
		return evaluateSimultaneousLocations(current, rule, window)
	case models.RuleTypeDeviceVelocity:
		return e.evaluateDeviceVelocity(current, rule, window)
	case models.RuleTypeImpossibleTravel:
		return evaluateImpossibleTravel(current, rule, window)
	case models.RuleTypeGeoRestriction:
		return evaluateGeoRestriction(current, rule)
	case models.RuleTypeInactiveUser:
		// Driven by the inactivity scanner, never the per-poll path.
		return Result{Rule: rule}, nil
	default:
		return Result{Rule: rule}, nil
	}
}

// filterRecent hardens the recent-session window before any per-type logic:
// the triggering session is dropped by id (windows queried just before the
// write lands sometimes already contain the new row), and so is any session
// with a non-nil StoppedAt; a stale cached "playing" state must never
// count as active.
func filterRecent(current *models.Session, recent []models.Session) []models.Session {
	window := make([]models.Session, 0, len(recent))
	for i := range recent {
		if recent[i].ID == current.ID {
			continue
		}
		if recent[i].StoppedAt != nil {
			continue
		}
		window = append(window, recent[i])
	}
	return window
}
