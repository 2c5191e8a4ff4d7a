// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingTrigger struct{ runs atomic.Int32 }

func (c *countingTrigger) RunOnce(context.Context) Result {
	c.runs.Add(1)
	return Result{Status: StatusCompleted}
}

type countingGC struct{ runs atomic.Int32 }

func (c *countingGC) RunGC() error {
	c.runs.Add(1)
	return nil
}

func waitForCount(t *testing.T, counter *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for counter.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("count = %d, want at least %d", counter.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduler_RunsJobs(t *testing.T) {
	s, err := NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	trigger := &countingTrigger{}
	gc := &countingGC{}
	if err := s.SchedulePeriodicSync(context.Background(), 20*time.Millisecond, trigger); err != nil {
		t.Fatalf("SchedulePeriodicSync() error = %v", err)
	}
	if err := s.ScheduleStoreGC(20*time.Millisecond, gc); err != nil {
		t.Fatalf("ScheduleStoreGC() error = %v", err)
	}

	s.Start()
	waitForCount(t, &trigger.runs, 2)
	waitForCount(t, &gc.runs, 2)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestScheduler_RejectsInvalidInterval(t *testing.T) {
	s, err := NewScheduler()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := s.SchedulePeriodicSync(context.Background(), 0, &countingTrigger{}); err == nil {
		t.Error("expected an error for a zero interval")
	}
}
