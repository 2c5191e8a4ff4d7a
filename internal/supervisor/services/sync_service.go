// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package services

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"
)

// StartStopManager is the lifecycle of *sync.Manager.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SyncService adapts the sync manager's Start/Stop lifecycle to suture.
// Stop waits for in-flight sync runs.
type SyncService struct {
	manager   StartStopManager
	dependsOn []<-chan struct{}
}

// NewSyncService wraps manager. Start is delayed until every dependsOn
// channel is closed, so consumers of sync events are listening before the
// first run.
func NewSyncService(manager StartStopManager, dependsOn ...<-chan struct{}) *SyncService {
	return &SyncService{manager: manager, dependsOn: dependsOn}
}

// Serve implements suture.Service.
func (s *SyncService) Serve(ctx context.Context) error {
	for _, dep := range s.dependsOn {
		select {
		case <-dep:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("sync manager start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("sync manager stop failed: %w", err)
	}
	return ctx.Err()
}

func (s *SyncService) String() string {
	return "sync-manager"
}

// TriggerRunner consumes connectivity notifications. Implemented by
// *sync.ConnectivityTrigger.
type TriggerRunner interface {
	Run(ctx context.Context, events <-chan struct{})
}

// ConnectivityService feeds OS connectivity notifications to the sync
// trigger. When the notification source closes its channel the service ends
// for good.
type ConnectivityService struct {
	trigger TriggerRunner
	events  <-chan struct{}
}

// NewConnectivityService wraps trigger.
func NewConnectivityService(trigger TriggerRunner, events <-chan struct{}) *ConnectivityService {
	return &ConnectivityService{trigger: trigger, events: events}
}

// Serve implements suture.Service.
func (c *ConnectivityService) Serve(ctx context.Context) error {
	c.trigger.Run(ctx, c.events)
	if err := ctx.Err(); err != nil {
		return err
	}
	return suture.ErrDoNotRestart
}

func (c *ConnectivityService) String() string {
	return "connectivity-trigger"
}
