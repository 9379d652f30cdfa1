// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package events

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

func TestBusDeliversSessionEvents(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, models.TopicSessionStarted)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sess := &models.Session{
		ID:           "sess-1",
		ServerID:     "srv1",
		ServerUserID: "user-1",
		SessionKey:   "key-1",
		State:        models.StatePlaying,
		StartedAt:    time.Now().UTC(),
	}
	bus.SessionStarted(sess)

	select {
	case msg := <-msgs:
		var ev models.SessionEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if ev.Session.ID != sess.ID {
			t.Errorf("session id = %s, want %s", ev.Session.ID, sess.ID)
		}
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	// No subscribers and a tiny queue: publishing far more events than
	// the queue holds must return promptly, dropping the overflow.
	done := make(chan struct{})
	go func() {
		defer close(done)
		v := &models.Violation{ID: "v1", RuleType: models.RuleTypeGeoRestriction}
		for i := 0; i < 1000; i++ {
			bus.ViolationCreated(v)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked")
	}
}
