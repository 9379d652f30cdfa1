// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package events publishes session lifecycle and violation notifications.
//
// The Bus is an in-process watermill pub/sub with a bounded intake queue.
// Publishing never blocks the poll loop: when the queue is full the event
// is dropped and counted. Subscribers (the metrics hook, the optional
// NATS forwarder) attach through Subscribe.
package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
)

// DefaultQueueSize bounds the intake queue between the poll loop and the
// dispatcher.
const DefaultQueueSize = 1024

type queued struct {
	topic string
	msg   *message.Message
}

// Bus is the in-process event bus.
type Bus struct {
	pubsub *gochannel.GoChannel
	queue  chan queued
	done   chan struct{}
}

// NewBus builds a Bus and starts its dispatcher.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newWatermillLogger()),
		queue: make(chan queued, queueSize),
		done:  make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for q := range b.queue {
		if err := b.pubsub.Publish(q.topic, q.msg); err != nil {
			logging.Error().Err(err).Str("topic", q.topic).Msg("event dispatch failed")
		}
	}
}

// Subscribe returns a channel of messages for the topic. The subscription
// ends when ctx is cancelled or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close drains the intake queue, then shuts down the pub/sub.
func (b *Bus) Close() error {
	close(b.queue)
	<-b.done
	return b.pubsub.Close()
}

// publish enqueues a payload for the topic, dropping it when the queue is
// full.
func (b *Bus) publish(topic string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("event marshal failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), body)

	select {
	case b.queue <- queued{topic: topic, msg: msg}:
		metrics.EventsPublished.WithLabelValues(topic).Inc()
	default:
		metrics.EventsDropped.WithLabelValues(topic).Inc()
		logging.Warn().Str("topic", topic).Msg("event queue full, dropping event")
	}
}

// SessionStarted publishes a session.started event.
func (b *Bus) SessionStarted(s *models.Session) {
	b.publish(models.TopicSessionStarted, models.SessionEvent{Session: *s, Timestamp: time.Now().UTC()})
}

// SessionUpdated publishes a session.updated event.
func (b *Bus) SessionUpdated(s *models.Session) {
	b.publish(models.TopicSessionUpdated, models.SessionEvent{Session: *s, Timestamp: time.Now().UTC()})
}

// SessionStopped publishes a session.stopped event.
func (b *Bus) SessionStopped(s *models.Session) {
	b.publish(models.TopicSessionStopped, models.SessionEvent{Session: *s, Timestamp: time.Now().UTC()})
}

// ViolationCreated publishes a violation.created event.
func (b *Bus) ViolationCreated(v *models.Violation) {
	b.publish(models.TopicViolationCreated, models.ViolationEvent{Violation: *v, Timestamp: time.Now().UTC()})
}
