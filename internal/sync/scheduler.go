// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/tomtom215/sonicmirror/internal/logging"
)

// gcInterval is how often the mirror's value log is garbage collected.
const gcInterval = time.Hour

// GarbageCollector is implemented by stores that need periodic space reclamation.
type GarbageCollector interface {
	RunGC() error
}

// Trigger is anything that can run a sync body.
type Trigger interface {
	RunOnce(ctx context.Context) Result
}

// Scheduler wraps gocron for the periodic sync trigger and store maintenance.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	logging.Info().Int("jobs", len(s.scheduler.Jobs())).Msg("Starting sync scheduler")
	s.scheduler.Start()
}

// Stop shuts down the scheduler and waits for running jobs.
func (s *Scheduler) Stop() error {
	logging.Info().Msg("Stopping sync scheduler")
	return s.scheduler.Shutdown()
}

// SchedulePeriodicSync runs trigger every interval. Overlapping runs are
// rescheduled rather than queued; the manager's guard covers other triggers.
func (s *Scheduler) SchedulePeriodicSync(ctx context.Context, interval time.Duration, trigger Trigger) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			result := trigger.RunOnce(ctx)
			logging.Debug().Str("status", string(result.Status)).Msg("Periodic sync trigger finished")
		}),
		gocron.WithName("periodic-sync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create periodic sync job: %w", err)
	}
	return nil
}

// ScheduleStoreGC runs store garbage collection every interval.
func (s *Scheduler) ScheduleStoreGC(interval time.Duration, gc GarbageCollector) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := gc.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("Mirror store GC failed")
			}
		}),
		gocron.WithName("mirror-gc"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create store GC job: %w", err)
	}
	return nil
}
