// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

// Package events carries sync and reachability notifications between
// components. The bus is an in-process watermill GoChannel; every message can
// additionally be forwarded to NATS for consumers outside the process.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/sonicmirror/internal/config"
	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/metrics"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("events: bus is closed")

// Bus is the process event bus.
type Bus struct {
	pubsub  *gochannel.GoChannel
	forward message.Publisher // optional NATS forwarder
	prefix  string
	logger  watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewLogger returns the watermill logger adapter backed by zerolog.
func NewLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}

// NewBus creates the in-process bus and, when cfg.NATSURL is set, the NATS
// forwarder.
func NewBus(cfg config.EventsConfig) (*Bus, error) {
	logger := NewLogger()

	b := &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger),
		prefix: cfg.TopicPrefix,
		logger: logger,
	}

	if cfg.NATSURL != "" {
		pub, err := NewNATSPublisher(cfg, logger)
		if err != nil {
			_ = b.pubsub.Close()
			return nil, err
		}
		b.forward = pub
		logging.Info().Str("url", cfg.NATSURL).Bool("jetstream", cfg.JetStream).Msg("Event forwarding to NATS enabled")
	}
	return b, nil
}

// Publish JSON-encodes payload and publishes it on topic. Forwarding failures
// are logged and counted but do not fail the in-process publish.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		metrics.RecordEventPublish(topic, err)
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(MetadataTopic, topic)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set(MetadataCorrelationID, id)
	}

	if b.forward != nil {
		fwd := msg.Copy()
		if err := b.forward.Publish(b.forwardTopic(topic), fwd); err != nil {
			metrics.RecordEventPublish("nats:"+topic, err)
			logging.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("Failed to forward event to NATS")
		} else {
			metrics.RecordEventPublish("nats:"+topic, nil)
		}
	}

	err = b.pubsub.Publish(topic, msg)
	metrics.RecordEventPublish(topic, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) forwardTopic(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + "." + topic
}

// Subscribe calls fn for every message on topic until ctx is done or the bus
// closes. Messages are acked after fn returns.
func (b *Bus) Subscribe(ctx context.Context, topic string, fn func(ctx context.Context, payload []byte)) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		b.mu.RUnlock()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	b.wg.Add(1)
	b.mu.RUnlock()

	go func() {
		defer b.wg.Done()
		for msg := range messages {
			msgCtx := ctx
			if id := msg.Metadata.Get(MetadataCorrelationID); id != "" {
				msgCtx = logging.ContextWithCorrelationID(ctx, id)
			}
			fn(msgCtx, msg.Payload)
			msg.Ack()
		}
	}()
	return nil
}

// ReachabilityListener returns a callback for reachability.Tracker.Subscribe
// that publishes TopicReachabilityChanged.
func (b *Bus) ReachabilityListener(ctx context.Context) func(reachable bool) {
	return func(reachable bool) {
		event := ReachabilityChanged{Reachable: reachable, At: time.Now()}
		if err := b.Publish(ctx, TopicReachabilityChanged, event); err != nil && !errors.Is(err, ErrBusClosed) {
			logging.Warn().Err(err).Msg("Failed to publish reachability change")
		}
	}
}

// Close closes the forwarder and the bus, then waits for subscriber loops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var errs []error
	if b.forward != nil {
		if err := b.forward.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close NATS publisher: %w", err))
		}
	}
	if err := b.pubsub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	b.wg.Wait()
	return errors.Join(errs...)
}
