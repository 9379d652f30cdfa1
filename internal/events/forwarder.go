// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
)

// ForwarderConfig configures the NATS forwarder.
type ForwarderConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration

	// BreakerOpenAfter is the consecutive-failure count that opens the
	// circuit; BreakerCooldown is how long it stays open.
	BreakerOpenAfter uint32
	BreakerCooldown  time.Duration
}

func (c *ForwarderConfig) withDefaults() {
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.BreakerOpenAfter == 0 {
		c.BreakerOpenAfter = 5
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// Forwarder republishes bus events to NATS JetStream. Publish failures
// trip a circuit breaker so a dead broker does not stall consumption of
// the in-process bus; events arriving while the circuit is open are
// dropped and counted.
type Forwarder struct {
	bus       *Bus
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[any]

	mu     sync.Mutex
	closed bool
}

// NewForwarder connects to NATS and builds a Forwarder.
func NewForwarder(bus *Bus, cfg ForwarderConfig) (*Forwarder, error) {
	cfg.withDefaults()
	logger := newWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "nats-forwarder",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerOpenAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Forwarder{bus: bus, publisher: pub, breaker: breaker}, nil
}

// Serve consumes all bus topics and forwards each message until ctx is
// cancelled. Implements suture.Service.
func (f *Forwarder) Serve(ctx context.Context) error {
	topics := []string{
		models.TopicSessionStarted,
		models.TopicSessionUpdated,
		models.TopicSessionStopped,
		models.TopicViolationCreated,
	}

	var wg sync.WaitGroup
	for _, topic := range topics {
		msgs, err := f.bus.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		wg.Add(1)
		go func(topic string, msgs <-chan *message.Message) {
			defer wg.Done()
			for msg := range msgs {
				f.forward(topic, msg)
				msg.Ack()
			}
		}(topic, msgs)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (f *Forwarder) forward(topic string, msg *message.Message) {
	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	_, err := f.breaker.Execute(func() (any, error) {
		return nil, f.publisher.Publish(topic, msg)
	})
	if err != nil {
		metrics.EventForwardErrors.WithLabelValues(topic).Inc()
		logging.Error().Err(err).Str("topic", topic).Msg("event forward failed")
		return
	}
	metrics.EventsForwarded.WithLabelValues(topic).Inc()
}

// Close shuts down the underlying publisher.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.publisher.Close()
}
