// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package scanner runs the periodic jobs that are not tied to any poll
// cycle: the inactivity scan and trust score recovery.
package scanner

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/dedup"
	"github.com/streamwarden/streamwarden/internal/events"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/rules"
	"github.com/streamwarden/streamwarden/internal/store"
)

// Config tunes the scanner.
type Config struct {
	// Interval between scan cycles. Inactivity is measured in days, so
	// hours-scale intervals are plenty.
	Interval time.Duration

	// TrustRecoveryPoints are added to every degraded trust score each
	// cycle; zero disables recovery.
	TrustRecoveryPoints int
}

func (c *Config) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
}

// Scanner flags inactive users and heals trust scores on a slow timer.
type Scanner struct {
	store *store.Store
	dedup *dedup.Deduplicator
	bus   *events.Bus
	cfg   Config
	now   func() time.Time
}

// New builds a Scanner.
func New(st *store.Store, dd *dedup.Deduplicator, bus *events.Bus, cfg Config) *Scanner {
	cfg.withDefaults()
	return &Scanner{store: st, dedup: dd, bus: bus, cfg: cfg, now: time.Now}
}

// Serve runs scan cycles until ctx is cancelled. Implements
// suture.Service. The first scan runs immediately on start.
func (s *Scanner) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.cfg.Interval).Msg("inactivity scanner starting")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scanner) runOnce(ctx context.Context) {
	if err := s.Scan(ctx); err != nil {
		logging.Error().Err(err).Msg("inactivity scan failed")
	}
	if s.cfg.TrustRecoveryPoints > 0 {
		n, err := s.store.RecoverTrustScores(ctx, s.cfg.TrustRecoveryPoints, s.now().UTC())
		if err != nil {
			logging.Error().Err(err).Msg("trust recovery failed")
		} else {
			metrics.TrustRecoveryRuns.Inc()
			if n > 0 {
				logging.Debug().Int64("users", n).Msg("trust scores recovered")
			}
		}
	}
}

// Scan evaluates every active inactive_user rule against its candidate
// users and funnels flagged users through the dedup path. Inactivity uses
// single-session dedup semantics: the triggering session is the user's
// latest session, and no lock is taken.
func (s *Scanner) Scan(ctx context.Context) error {
	ruleSet, err := s.store.ActiveRulesOfType(ctx, models.RuleTypeInactiveUser)
	if err != nil {
		return err
	}
	if len(ruleSet) == 0 {
		return nil
	}

	now := s.now().UTC()
	for i := range ruleSet {
		rule := &ruleSet[i]
		if err := s.scanRule(ctx, rule, now); err != nil {
			logging.Warn().Err(err).Str("rule_id", rule.ID).Msg("skipping inactivity rule")
		}
	}
	metrics.ScannerRuns.Inc()
	return nil
}

func (s *Scanner) scanRule(ctx context.Context, rule *models.Rule, now time.Time) error {
	var params rules.InactiveUserParams
	if err := json.Unmarshal(rule.Params, &params); err != nil {
		return err
	}
	cutoff := now.Add(-time.Duration(params.InactiveDays) * 24 * time.Hour)

	candidates, err := s.store.InactiveUserCandidates(ctx, cutoff)
	if err != nil {
		return err
	}

	for i := range candidates {
		user := &candidates[i]
		if !rule.AppliesTo(user.ID) {
			continue
		}
		if err := s.flagUser(ctx, rule, user, now); err != nil {
			logging.Warn().Err(err).
				Str("rule_id", rule.ID).
				Str("server_user_id", user.ID).
				Msg("inactivity flag failed")
		}
	}
	return nil
}

func (s *Scanner) flagUser(ctx context.Context, rule *models.Rule, user *models.ServerUser, now time.Time) error {
	metrics.RuleEvaluations.WithLabelValues(string(rule.Type)).Inc()

	lastAck, err := s.store.LatestAcknowledgedViolation(ctx, user.ID, models.RuleTypeInactiveUser)
	if err != nil {
		return err
	}

	res, err := rules.EvaluateInactiveUser(user, rule, lastAck, now)
	if err != nil {
		return err
	}
	if !res.Violated {
		return nil
	}

	// The user's latest session anchors the violation; a user who never
	// streamed has nothing to anchor to and is skipped.
	latest, err := s.store.LatestSessionForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	if latest == nil {
		return nil
	}

	v, err := s.dedup.Create(ctx, &res, user.ID, latest.ID)
	if err != nil {
		return err
	}
	if v == nil {
		metrics.ViolationsDeduplicated.WithLabelValues(string(rule.Type)).Inc()
		return nil
	}

	metrics.ViolationsCreated.WithLabelValues(string(v.RuleType), string(v.Severity)).Inc()
	s.bus.ViolationCreated(v)

	logging.Info().
		Str("server_user_id", user.ID).
		Str("username", user.Username).
		Msg("inactive user flagged")
	return nil
}
