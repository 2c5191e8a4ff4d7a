// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package sync

import (
	"context"

	"github.com/tomtom215/sonicmirror/internal/logging"
)

// Pinger is the probe used before a connectivity-triggered sync.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectivityTrigger turns OS connectivity notifications into sync attempts.
//
// The reachability belief only changes when a request goes out, so after a
// period offline it still reads "unreachable". With probing enabled, a Ping
// through the observing transport refreshes the belief first; without it the
// trigger relies on some other request having done so.
type ConnectivityTrigger struct {
	manager *Manager
	pinger  Pinger
	probe   bool
}

// NewConnectivityTrigger creates a trigger. pinger may be nil when probe is false.
func NewConnectivityTrigger(manager *Manager, pinger Pinger, probe bool) *ConnectivityTrigger {
	return &ConnectivityTrigger{manager: manager, pinger: pinger, probe: probe && pinger != nil}
}

// OnConnectivityRegained probes (if configured) and then starts a sync if
// needed. Both happen off the caller's goroutine.
func (t *ConnectivityTrigger) OnConnectivityRegained(ctx context.Context) <-chan Result {
	if !t.probe {
		return t.manager.StartIfNeeded(ctx)
	}

	ch := make(chan Result, 1)
	t.manager.wg.Add(1)
	go func() {
		defer t.manager.wg.Done()
		defer close(ch)
		if err := t.pinger.Ping(ctx); err != nil {
			logging.Debug().Err(err).Msg("Connectivity probe failed")
		}
		ch <- t.manager.RunOnce(ctx)
	}()
	return ch
}

// Run consumes notifications until ctx is done or events is closed.
func (t *ConnectivityTrigger) Run(ctx context.Context, events <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			logging.Info().Msg("Connectivity regained, checking sync")
			t.OnConnectivityRegained(ctx)
		}
	}
}
