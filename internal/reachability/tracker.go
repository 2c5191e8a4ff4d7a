// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

// Package reachability tracks whether the Subsonic server currently answers.
//
// The belief is inferred from real traffic: every outbound request passes
// through Transport, which marks the server reachable when any HTTP response
// arrives (including 4xx/5xx) and unreachable on a transport-level failure.
// The flag is advisory. A stale "reachable" reading costs one failed sync
// attempt; it is never used as a lock.
package reachability

import (
	"sync"
	"sync/atomic"

	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/metrics"
	"github.com/tomtom215/sonicmirror/internal/models"
)

// Tracker holds the process-wide reachability state. The zero value is ready
// to use and starts in ReachabilityUnknown, which is treated as reachable.
// Construct one per process and pass it to whoever needs it.
type Tracker struct {
	state atomic.Int32

	// writeMu orders state changes with their notifications, so listeners
	// see flips in the order they were applied.
	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(reachable bool)
}

// NewTracker returns a tracker in the unknown (optimistic) state.
func NewTracker() *Tracker {
	return &Tracker{}
}

// MarkReachable records that the server answered a request.
func (t *Tracker) MarkReachable() {
	t.set(models.ReachabilityReachable)
}

// MarkUnreachable records a transport-level failure.
func (t *Tracker) MarkUnreachable() {
	t.set(models.ReachabilityUnreachable)
}

// IsReachable reports whether network attempts should be made.
func (t *Tracker) IsReachable() bool {
	return t.State().IsReachable()
}

// State returns the raw state, including ReachabilityUnknown.
func (t *Tracker) State() models.ReachabilityState {
	return models.ReachabilityState(t.state.Load())
}

// Subscribe registers fn to be called when IsReachable flips. fn runs on the
// goroutine that caused the flip, in flip order, and must not block or call
// MarkReachable/MarkUnreachable. The returned func removes the subscription.
func (t *Tracker) Subscribe(fn func(reachable bool)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listeners == nil {
		t.listeners = make(map[int]func(bool))
	}
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

func (t *Tracker) set(next models.ReachabilityState) {
	if models.ReachabilityState(t.state.Load()) == next {
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	prev := models.ReachabilityState(t.state.Swap(int32(next)))
	if prev.IsReachable() == next.IsReachable() {
		return
	}

	reachable := next.IsReachable()
	metrics.SetReachable(reachable)
	logging.Info().
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("Server reachability changed")

	t.mu.Lock()
	fns := make([]func(bool), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(reachable)
	}
}
