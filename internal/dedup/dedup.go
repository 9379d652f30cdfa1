// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package dedup gates violation creation so repeated detections of the
// same incident collapse into one stored violation.
//
// Single-session rule types dedup on the exact triggering session: a
// candidate is a duplicate only if an unacknowledged violation of the
// same type already points at the same session. Multi-session rule types
// (concurrent streams, simultaneous locations) dedup on session-set
// overlap under a named lock, because several sessions of one incident
// can each trigger the rule and each would otherwise store its own
// violation.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/streamwarden/streamwarden/internal/locks"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/rules"
	"github.com/streamwarden/streamwarden/internal/store"
)

// DefaultWindow bounds how far back the duplicate check looks.
const DefaultWindow = 48 * time.Hour

// Deduplicator creates violations exactly once per incident.
type Deduplicator struct {
	store  *store.Store
	locker locks.Locker
	window time.Duration
	now    func() time.Time
}

// New builds a Deduplicator. A zero window falls back to DefaultWindow.
func New(st *store.Store, locker locks.Locker, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		store:  st,
		locker: locker,
		window: window,
		now:    time.Now,
	}
}

// NewWithClock is New with an injected clock and window, for tests.
func NewWithClock(st *store.Store, locker locks.Locker, window time.Duration, now func() time.Time) *Deduplicator {
	return &Deduplicator{store: st, locker: locker, window: window, now: now}
}

// Create stores the violation described by result unless an equivalent
// unacknowledged violation already exists. On creation the user's trust
// score is decremented in the same transaction. Returns the stored
// violation, or nil when deduplicated.
func (d *Deduplicator) Create(ctx context.Context, result *rules.Result, serverUserID, sessionID string) (*models.Violation, error) {
	v := &models.Violation{
		ID:           uuid.NewString(),
		RuleID:       result.Rule.ID,
		RuleType:     result.Rule.Type,
		ServerUserID: serverUserID,
		SessionID:    sessionID,
		Severity:     result.Severity,
		Data:         result.Data,
		CreatedAt:    d.now().UTC(),
	}

	if !v.RuleType.MultiSession() {
		return d.create(ctx, v, nil)
	}

	// Serialize writers for the same (user, rule type) so concurrent
	// triggers of one incident observe each other's inserts.
	release, err := d.locker.Acquire(ctx, locks.Key(v.ServerUserID, string(v.RuleType)))
	if err != nil {
		return nil, fmt.Errorf("acquire dedup lock: %w", err)
	}
	defer release()

	return d.create(ctx, v, result.RelatedSessionIDs)
}

func (d *Deduplicator) create(ctx context.Context, v *models.Violation, related []string) (*models.Violation, error) {
	dup, err := d.isDuplicate(ctx, v, related)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, nil
	}
	return d.insert(ctx, v)
}

// isDuplicate checks recent unacknowledged violations of the same type.
// For multi-session candidates any overlap between the candidate's
// session set and an existing violation's session set is a duplicate. For
// single-session candidates only an exact session match is.
func (d *Deduplicator) isDuplicate(ctx context.Context, v *models.Violation, related []string) (bool, error) {
	since := d.now().UTC().Add(-d.window)
	existing, err := d.store.UnacknowledgedViolations(ctx, nil, v.ServerUserID, v.RuleType, since)
	if err != nil {
		return false, fmt.Errorf("dedup query: %w", err)
	}

	if !v.RuleType.MultiSession() {
		for i := range existing {
			if existing[i].SessionID == v.SessionID {
				return true, nil
			}
		}
		return false, nil
	}

	candidate := make(map[string]struct{}, len(related)+1)
	candidate[v.SessionID] = struct{}{}
	for _, id := range related {
		candidate[id] = struct{}{}
	}
	for i := range existing {
		if _, ok := candidate[existing[i].SessionID]; ok {
			return true, nil
		}
		for _, id := range existing[i].RelatedSessionIDs() {
			if _, ok := candidate[id]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// insert writes the violation and the trust penalty atomically. A unique
// index collision from a concurrent writer is treated as a dedup hit.
func (d *Deduplicator) insert(ctx context.Context, v *models.Violation) (*models.Violation, error) {
	var inserted bool
	err := d.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = d.store.InsertViolationTx(ctx, tx, v)
		if err != nil || !inserted {
			return err
		}
		return d.store.ApplyTrustPenaltyTx(ctx, tx, v.ServerUserID, v.Severity.TrustPenalty(), v.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		logging.Debug().
			Str("server_user_id", v.ServerUserID).
			Str("rule_type", string(v.RuleType)).
			Str("session_id", v.SessionID).
			Msg("violation deduplicated by storage constraint")
		return nil, nil
	}
	return v, nil
}
