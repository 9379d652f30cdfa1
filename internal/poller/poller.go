// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package poller drives session tracking and rule evaluation for one
// media server.
//
// Each Poller runs an independent timer loop. A cycle fetches the active
// playback snapshot, merges it into stored sessions, stop-detects
// sessions that vanished from the snapshot, evaluates rules for every
// active session, and funnels violation candidates through the dedup
// path. Cycles never overlap: a tick whose predecessor is still running
// is skipped.
package poller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/streamwarden/streamwarden/internal/adapter"
	"github.com/streamwarden/streamwarden/internal/dedup"
	"github.com/streamwarden/streamwarden/internal/events"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/rules"
	"github.com/streamwarden/streamwarden/internal/store"
	"github.com/streamwarden/streamwarden/internal/tracker"
)

// Config tunes one poller.
type Config struct {
	// Interval between poll ticks.
	Interval time.Duration

	// EvalWindow bounds the recent-session window handed to the rule
	// engine.
	EvalWindow time.Duration

	// ChainWindow bounds how far back a stopped session can be resumed.
	ChainWindow time.Duration
}

func (c *Config) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.EvalWindow <= 0 {
		c.EvalWindow = 24 * time.Hour
	}
	if c.ChainWindow <= 0 {
		c.ChainWindow = tracker.DefaultChainWindow
	}
}

// Poller polls one media server and processes its sessions.
type Poller struct {
	server models.MediaServer
	source adapter.Source
	store  *store.Store
	engine *rules.Engine
	dedup  *dedup.Deduplicator
	bus    *events.Bus
	cfg    Config

	inFlight atomic.Bool
	now      func() time.Time
}

// New builds a Poller for one server.
func New(server models.MediaServer, source adapter.Source, st *store.Store, engine *rules.Engine, dd *dedup.Deduplicator, bus *events.Bus, cfg Config) *Poller {
	cfg.withDefaults()
	if server.PollIntervalSeconds > 0 {
		cfg.Interval = time.Duration(server.PollIntervalSeconds) * time.Second
	}
	return &Poller{
		server: server,
		source: source,
		store:  st,
		engine: engine,
		dedup:  dd,
		bus:    bus,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Serve runs the poll loop until ctx is cancelled. Implements
// suture.Service. An in-flight cycle finishes before Serve returns.
func (p *Poller) Serve(ctx context.Context) error {
	logging.Info().
		Str("server", p.server.Name).
		Dur("interval", p.cfg.Interval).
		Msg("poller starting")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Cycle(ctx); err != nil {
				logging.Warn().Err(err).
					Str("server", p.server.Name).
					Msg("poll cycle failed")
			}
		}
	}
}

// Cycle runs one poll cycle. A cycle that finds its predecessor still
// running returns immediately; transient fetch errors skip the cycle and
// leave stored state untouched.
func (p *Poller) Cycle(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		metrics.PollSkipped.WithLabelValues(p.server.Name).Inc()
		logging.Debug().Str("server", p.server.Name).Msg("previous cycle still running, skipping tick")
		return nil
	}
	defer p.inFlight.Store(false)

	start := p.now()
	defer func() {
		metrics.PollDuration.WithLabelValues(p.server.Name).Observe(p.now().Sub(start).Seconds())
	}()

	snapshots, err := p.source.Snapshot(ctx)
	if err != nil {
		metrics.PollErrors.WithLabelValues(p.server.Name).Inc()
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	now := p.now().UTC()
	seen := make(map[string]bool, len(snapshots))
	var active []*models.Session

	for i := range snapshots {
		snap := &snapshots[i]
		if snap.SessionKey == "" {
			logging.Warn().Str("server", p.server.Name).Msg("snapshot without session key, skipping")
			continue
		}
		seen[snap.SessionKey] = true

		sess, err := p.processSnapshot(ctx, snap, now)
		if err != nil {
			logging.Error().Err(err).
				Str("server", p.server.Name).
				Str("session_key", snap.SessionKey).
				Msg("session processing failed")
			continue
		}
		if sess != nil && sess.IsActive() {
			active = append(active, sess)
		}
	}

	if err := p.stopVanished(ctx, seen, now); err != nil {
		logging.Error().Err(err).Str("server", p.server.Name).Msg("stop detection failed")
	}

	p.evaluate(ctx, active, now)

	metrics.ActiveSessions.WithLabelValues(p.server.Name).Set(float64(len(active)))
	metrics.PollCycles.WithLabelValues(p.server.Name).Inc()
	return nil
}

// processSnapshot starts a new session or merges the snapshot into the
// existing one, and advances the user's activity timestamp.
func (p *Poller) processSnapshot(ctx context.Context, snap *models.SessionSnapshot, now time.Time) (*models.Session, error) {
	user, err := p.store.EnsureServerUser(ctx, p.server.ID, snap.Username, now)
	if err != nil {
		return nil, err
	}

	sess, err := p.store.ActiveSessionByKey(ctx, p.server.ID, snap.SessionKey)
	if err != nil {
		return nil, err
	}

	if sess == nil {
		sess, err = p.startSession(ctx, snap, user, now)
	} else {
		err = p.updateSession(ctx, sess, snap, now)
	}
	if err != nil {
		return nil, err
	}

	if err := p.store.TouchUserActivity(ctx, user.ID, now); err != nil {
		logging.Warn().Err(err).Str("server_user_id", user.ID).Msg("activity touch failed")
	}
	return sess, nil
}

// startSession creates a session row for a newly observed playback,
// resolving its resume chain against the user's latest stopped session.
func (p *Poller) startSession(ctx context.Context, snap *models.SessionSnapshot, user *models.ServerUser, now time.Time) (*models.Session, error) {
	sess := &models.Session{
		ID:              uuid.NewString(),
		ServerID:        p.server.ID,
		ServerUserID:    user.ID,
		SessionKey:      snap.SessionKey,
		State:           snap.State,
		StartedAt:       now,
		ProgressMs:      snap.ProgressMs,
		TotalDurationMs: snap.TotalDurationMs,
		DeviceID:        snap.DeviceID,
		Platform:        snap.Platform,
		Product:         snap.Product,
		IPAddress:       snap.IPAddress,
		City:            snap.City,
		Region:          snap.Region,
		CountryCode:     snap.CountryCode,
		Latitude:        snap.Latitude,
		Longitude:       snap.Longitude,
		VideoDecision:   snap.VideoDecision,
		Bitrate:         snap.Bitrate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if snap.ExternalSessionID != "" {
		id := snap.ExternalSessionID
		sess.ExternalSessionID = &id
	}
	if snap.State == models.StatePaused {
		pausedAt := now
		sess.LastPausedAt = &pausedAt
	}
	sess.Watched = tracker.IsWatchComplete(sess.ProgressMs, sess.TotalDurationMs)

	prev, err := p.store.LatestStoppedSessionForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		var progress int64
		if snap.ProgressMs != nil {
			progress = *snap.ProgressMs
		}
		sess.ReferenceID = tracker.ResumeChainTarget(tracker.ChainCandidate{
			ID:          prev.ID,
			ReferenceID: prev.ReferenceID,
			ProgressMs:  prev.ProgressMs,
			Watched:     prev.Watched,
			StoppedAt:   prev.StoppedAt,
		}, progress, now.Add(-p.cfg.ChainWindow))
	}

	if err := p.store.InsertSession(ctx, sess); err != nil {
		return nil, err
	}
	p.bus.SessionStarted(sess)

	logging.Info().
		Str("server", p.server.Name).
		Str("session_id", sess.ID).
		Str("username", user.Username).
		Msg("session started")
	return sess, nil
}

// updateSession merges the snapshot into an existing session, folding
// pause transitions into the accumulator. A snapshot reporting "stopped"
// finalizes the session immediately instead of waiting for it to vanish.
func (p *Poller) updateSession(ctx context.Context, sess *models.Session, snap *models.SessionSnapshot, now time.Time) error {
	if snap.State == models.StateStopped {
		p.finalize(ctx, sess, now)
		return nil
	}

	ps := tracker.AccumulatePause(sess.State, snap.State, tracker.PauseState{
		LastPausedAt:     sess.LastPausedAt,
		PausedDurationMs: sess.PausedDurationMs,
	}, now)

	sess.State = snap.State
	sess.LastPausedAt = ps.LastPausedAt
	sess.PausedDurationMs = ps.PausedDurationMs
	if snap.ProgressMs != nil {
		sess.ProgressMs = snap.ProgressMs
	}
	if snap.TotalDurationMs != nil {
		sess.TotalDurationMs = snap.TotalDurationMs
	}
	if snap.IPAddress != "" {
		sess.IPAddress = snap.IPAddress
	}
	if snap.City != "" || snap.CountryCode != "" {
		sess.City = snap.City
		sess.Region = snap.Region
		sess.CountryCode = snap.CountryCode
		sess.Latitude = snap.Latitude
		sess.Longitude = snap.Longitude
	}
	if snap.VideoDecision != "" {
		sess.VideoDecision = snap.VideoDecision
	}
	if snap.Bitrate != 0 {
		sess.Bitrate = snap.Bitrate
	}
	if !sess.Watched {
		sess.Watched = tracker.IsWatchComplete(sess.ProgressMs, sess.TotalDurationMs)
	}
	sess.UpdatedAt = now

	if err := p.store.UpdateSessionProgress(ctx, sess); err != nil {
		return err
	}
	p.bus.SessionUpdated(sess)
	return nil
}

// stopVanished finalizes every active session absent from the snapshot.
func (p *Poller) stopVanished(ctx context.Context, seen map[string]bool, now time.Time) error {
	active, err := p.store.ActiveSessionsForServer(ctx, p.server.ID)
	if err != nil {
		return err
	}
	for i := range active {
		sess := &active[i]
		if seen[sess.SessionKey] {
			continue
		}
		p.finalize(ctx, sess, now)
	}
	return nil
}

func (p *Poller) finalize(ctx context.Context, sess *models.Session, now time.Time) {
	res := tracker.FinalizeDuration(tracker.FinalizeInput{
		StartedAt:        sess.StartedAt,
		LastPausedAt:     sess.LastPausedAt,
		PausedDurationMs: sess.PausedDurationMs,
	}, now)

	watched := sess.Watched || tracker.IsWatchComplete(sess.ProgressMs, sess.TotalDurationMs)
	if err := p.store.FinalizeSession(ctx, sess.ID, now, res.DurationMs, res.FinalPausedDurationMs, watched); err != nil {
		logging.Error().Err(err).Str("session_id", sess.ID).Msg("session finalize failed")
		return
	}

	stoppedAt := now
	sess.State = models.StateStopped
	sess.StoppedAt = &stoppedAt
	sess.LastPausedAt = nil
	sess.DurationMs = &res.DurationMs
	sess.PausedDurationMs = res.FinalPausedDurationMs
	sess.Watched = watched
	p.bus.SessionStopped(sess)

	logging.Info().
		Str("server", p.server.Name).
		Str("session_id", sess.ID).
		Int64("duration_ms", res.DurationMs).
		Msg("session stopped")
}

// evaluate runs the rule engine for every active session in this cycle
// and funnels violated results through the dedup path.
func (p *Poller) evaluate(ctx context.Context, active []*models.Session, now time.Time) {
	if len(active) == 0 {
		return
	}

	ruleSet, err := p.store.ActiveRules(ctx)
	if err != nil {
		logging.Error().Err(err).Str("server", p.server.Name).Msg("rule load failed")
		return
	}
	if len(ruleSet) == 0 {
		return
	}

	since := now.Add(-p.cfg.EvalWindow)
	for _, sess := range active {
		recent, err := p.store.RecentSessionsForUser(ctx, sess.ServerUserID, since)
		if err != nil {
			logging.Error().Err(err).
				Str("session_id", sess.ID).
				Msg("recent window query failed")
			continue
		}

		for _, res := range p.engine.Evaluate(sess, ruleSet, recent) {
			p.createViolation(ctx, &res, sess)
		}
	}
}

// createViolation funnels one violated result through dedup; a stored
// violation is published and counted, a dedup hit is counted only.
func (p *Poller) createViolation(ctx context.Context, res *rules.Result, sess *models.Session) {
	v, err := p.dedup.Create(ctx, res, sess.ServerUserID, sess.ID)
	if err != nil {
		logging.Error().Err(err).
			Str("rule_id", res.Rule.ID).
			Str("session_id", sess.ID).
			Msg("violation create failed")
		return
	}
	if v == nil {
		metrics.ViolationsDeduplicated.WithLabelValues(string(res.Rule.Type)).Inc()
		return
	}

	metrics.ViolationsCreated.WithLabelValues(string(v.RuleType), string(v.Severity)).Inc()
	p.bus.ViolationCreated(v)

	logging.Warn().
		Str("server", p.server.Name).
		Str("rule_type", string(v.RuleType)).
		Str("severity", string(v.Severity)).
		Str("server_user_id", v.ServerUserID).
		Str("session_id", v.SessionID).
		Msg("violation created")
}
