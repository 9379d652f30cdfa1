// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package dedup

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/locks"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/rules"
	"github.com/streamwarden/streamwarden/internal/store"
)

func newTestDedup(t *testing.T) (*Deduplicator, *store.Store, *models.ServerUser) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "dedup.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := &models.MediaServer{ID: "srv1", Name: "srv1", Type: "plex", URL: "http://localhost:32400", Enabled: true, PollIntervalSeconds: 15, CreatedAt: time.Now()}
	if err := st.UpsertServer(ctx, srv); err != nil {
		t.Fatalf("upsert server: %v", err)
	}
	user, err := st.EnsureServerUser(ctx, "srv1", "alice", time.Now())
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	d := New(st, locks.NewManager(), 0)
	return d, st, user
}

func concurrentStreamsResult(t *testing.T, related []string) *rules.Result {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"stream_count":        len(related) + 1,
		"max_streams":         1,
		"related_session_ids": related,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &rules.Result{
		Violated: true,
		Severity: models.SeverityWarning,
		Data:     data,
		Rule: &models.Rule{
			ID:       "rule-cs",
			Type:     models.RuleTypeConcurrentStreams,
			IsActive: true,
		},
		RelatedSessionIDs: related,
	}
}

func geoResult() *rules.Result {
	data, _ := json.Marshal(map[string]any{"country_code": "KP", "mode": "block"})
	return &rules.Result{
		Violated: true,
		Severity: models.SeverityWarning,
		Data:     data,
		Rule: &models.Rule{
			ID:       "rule-geo",
			Type:     models.RuleTypeGeoRestriction,
			IsActive: true,
		},
	}
}

func TestMultiSessionIncidentCollapsesToOneViolation(t *testing.T) {
	d, st, user := newTestDedup(t)
	ctx := context.Background()

	// Three concurrent sessions each trigger the rule with the other two
	// as related sessions; only the first write survives.
	all := []string{"s1", "s2", "s3"}
	var created int
	for i, trigger := range all {
		related := make([]string, 0, 2)
		for j, id := range all {
			if j != i {
				related = append(related, id)
			}
		}
		v, err := d.Create(ctx, concurrentStreamsResult(t, related), user.ID, trigger)
		if err != nil {
			t.Fatalf("create for %s: %v", trigger, err)
		}
		if v != nil {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("created %d violations, want 1", created)
	}

	got, err := st.UnacknowledgedViolations(ctx, nil, user.ID, models.RuleTypeConcurrentStreams, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("stored %d violations, want 1", len(got))
	}
	if ids := got[0].RelatedSessionIDs(); len(ids) != 2 {
		t.Errorf("related session ids = %v, want 2 entries", ids)
	}
}

func TestMultiSessionPartialOverlapIsDuplicate(t *testing.T) {
	d, _, user := newTestDedup(t)
	ctx := context.Background()

	// First incident covers {s1, s2}.
	v, err := d.Create(ctx, concurrentStreamsResult(t, []string{"s2"}), user.ID, "s1")
	if err != nil || v == nil {
		t.Fatalf("first create = (%v, %v), want stored", v, err)
	}

	// A later trigger from s3 that still involves s2 is the same incident.
	v, err = d.Create(ctx, concurrentStreamsResult(t, []string{"s2"}), user.ID, "s3")
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Error("overlapping incident stored a second violation")
	}

	// A fully disjoint session set is a new incident.
	v, err = d.Create(ctx, concurrentStreamsResult(t, []string{"s5"}), user.ID, "s4")
	if err != nil {
		t.Fatal(err)
	}
	if v == nil {
		t.Error("disjoint incident was deduplicated")
	}
}

func TestSingleSessionDedupByExactSession(t *testing.T) {
	d, _, user := newTestDedup(t)
	ctx := context.Background()

	v, err := d.Create(ctx, geoResult(), user.ID, "s1")
	if err != nil || v == nil {
		t.Fatalf("first create = (%v, %v), want stored", v, err)
	}

	// Same session re-detected on the next poll.
	v, err = d.Create(ctx, geoResult(), user.ID, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Error("same-session redetection stored a second violation")
	}

	// A different session violating the same rule is a separate incident.
	v, err = d.Create(ctx, geoResult(), user.ID, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if v == nil {
		t.Error("different session was deduplicated")
	}
}

func TestAcknowledgementReopensDedup(t *testing.T) {
	d, st, user := newTestDedup(t)
	ctx := context.Background()

	v, err := d.Create(ctx, geoResult(), user.ID, "s1")
	if err != nil || v == nil {
		t.Fatalf("first create = (%v, %v), want stored", v, err)
	}
	if err := st.AcknowledgeViolation(ctx, v.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	v, err = d.Create(ctx, geoResult(), user.ID, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if v == nil {
		t.Error("post-acknowledgement redetection was deduplicated")
	}
}

func TestTrustPenaltyAppliedOncePerIncident(t *testing.T) {
	d, st, user := newTestDedup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := d.Create(ctx, geoResult(), user.ID, "s1"); err != nil {
			t.Fatal(err)
		}
	}

	got, err := st.ServerUserByID(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TrustScore != 100-models.SeverityWarning.TrustPenalty() {
		t.Errorf("trust score = %d, want one penalty applied", got.TrustScore)
	}
}

func TestConcurrentMultiSessionWritersStoreOne(t *testing.T) {
	d, st, user := newTestDedup(t)
	ctx := context.Background()

	result := concurrentStreamsResult(t, []string{"s1", "s2"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Create(ctx, result, user.ID, "s1"); err != nil {
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := st.UnacknowledgedViolations(ctx, nil, user.ID, models.RuleTypeConcurrentStreams, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("stored %d violations under concurrency, want 1", len(got))
	}
}

// countingLocker records acquisitions so tests can assert which write
// paths lock.
type countingLocker struct {
	mu       sync.Mutex
	acquired []uint64
}

func (c *countingLocker) Acquire(ctx context.Context, key uint64) (func(), error) {
	c.mu.Lock()
	c.acquired = append(c.acquired, key)
	c.mu.Unlock()
	return func() {}, nil
}

func TestLockAcquiredOnlyForMultiSessionTypes(t *testing.T) {
	_, st, user := newTestDedup(t)
	ctx := context.Background()

	locker := &countingLocker{}
	d := New(st, locker, 0)

	if _, err := d.Create(ctx, geoResult(), user.ID, "s1"); err != nil {
		t.Fatal(err)
	}
	if len(locker.acquired) != 0 {
		t.Fatalf("single-session create acquired %d locks, want 0", len(locker.acquired))
	}

	if _, err := d.Create(ctx, concurrentStreamsResult(t, []string{"s2"}), user.ID, "s1"); err != nil {
		t.Fatal(err)
	}
	if len(locker.acquired) != 1 {
		t.Fatalf("multi-session create acquired %d locks, want 1", len(locker.acquired))
	}
	if want := locks.Key(user.ID, string(models.RuleTypeConcurrentStreams)); locker.acquired[0] != want {
		t.Errorf("lock key = %d, want %d", locker.acquired[0], want)
	}
}
