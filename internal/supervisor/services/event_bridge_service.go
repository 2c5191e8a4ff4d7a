// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/sonicmirror/internal/events"
	"github.com/tomtom215/sonicmirror/internal/logging"
)

// EventBus is the part of *events.Bus the bridge uses.
type EventBus interface {
	Subscribe(ctx context.Context, topic string, fn func(ctx context.Context, payload []byte)) error
	ReachabilityListener(ctx context.Context) func(reachable bool)
}

// SyncObserver reacts to finished sync runs. Implemented by *offline.Browser.
type SyncObserver interface {
	SyncFinished(ctx context.Context, succeeded bool)
}

// ReachabilityNotifier is the subscription half of *reachability.Tracker.
type ReachabilityNotifier interface {
	Subscribe(fn func(reachable bool)) (unsubscribe func())
}

// EventBridgeService connects the bus to its in-process consumers:
// sync.completed and sync.failed end the browser's loading state, and
// reachability flips are published as reachability.changed.
type EventBridgeService struct {
	bus      EventBus
	observer SyncObserver
	tracker  ReachabilityNotifier

	ready     chan struct{}
	readyOnce sync.Once
}

// NewEventBridgeService creates the bridge.
func NewEventBridgeService(bus EventBus, observer SyncObserver, tracker ReachabilityNotifier) *EventBridgeService {
	return &EventBridgeService{
		bus:      bus,
		observer: observer,
		tracker:  tracker,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the first set of subscriptions is registered.
func (e *EventBridgeService) Ready() <-chan struct{} {
	return e.ready
}

// Serve implements suture.Service. Subscriptions end with ctx.
func (e *EventBridgeService) Serve(ctx context.Context) error {
	outcomes := map[string]bool{
		events.TopicSyncCompleted: true,
		events.TopicSyncFailed:    false,
	}
	for topic, succeeded := range outcomes {
		if err := e.bus.Subscribe(ctx, topic, func(msgCtx context.Context, _ []byte) {
			logging.Ctx(msgCtx).Debug().Str("topic", topic).Msg("Sync event received")
			e.observer.SyncFinished(msgCtx, succeeded)
		}); err != nil {
			return fmt.Errorf("event bridge: %w", err)
		}
	}

	untrack := e.tracker.Subscribe(e.bus.ReachabilityListener(ctx))
	defer untrack()
	e.readyOnce.Do(func() { close(e.ready) })

	<-ctx.Done()
	return ctx.Err()
}

func (e *EventBridgeService) String() string {
	return "event-bridge"
}
