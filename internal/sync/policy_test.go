// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package sync

import (
	"math"
	"testing"
	"time"
)

func TestShouldForceFull(t *testing.T) {
	week := StaleThreshold.Milliseconds()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC).UnixMilli()

	tests := []struct {
		name string
		last int64
		now  int64
		want bool
	}{
		{"never synced", 0, now, true},
		{"never synced at epoch", 0, 0, true},
		{"just synced", now, now, false},
		{"one hour ago", now - time.Hour.Milliseconds(), now, false},
		{"one milli short of threshold", now - week + 1, now, false},
		{"exactly threshold", now - week, now, true},
		{"past threshold", now - 2*week, now, true},
		{"clock moved backwards", now + time.Hour.Milliseconds(), now, false},
		{"negative last, far future now", math.MinInt64, math.MaxInt64, true},
		{"negative last, now just after", -5, -4, false},
		{"max last, min now", math.MaxInt64, math.MinInt64, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldForceFull(tt.last, tt.now); got != tt.want {
				t.Errorf("ShouldForceFull(%d, %d) = %v, want %v", tt.last, tt.now, got, tt.want)
			}
		})
	}
}

func TestDeltaPolicy_CustomThreshold(t *testing.T) {
	p := DeltaPolicy{Threshold: time.Hour}
	now := int64(10 * time.Hour / time.Millisecond)

	if p.ShouldForceFull(now-time.Minute.Milliseconds(), now) {
		t.Error("one minute old checkpoint should allow DELTA")
	}
	if !p.ShouldForceFull(now-time.Hour.Milliseconds(), now) {
		t.Error("one hour old checkpoint should force FULL")
	}
}

func TestShouldForceFull_MonotoneInElapsed(t *testing.T) {
	last := int64(1_000_000)
	forced := false
	for step := int64(0); step <= 2*StaleThreshold.Milliseconds(); step += time.Hour.Milliseconds() {
		got := ShouldForceFull(last, last+step)
		if forced && !got {
			t.Fatalf("policy flipped back to DELTA at elapsed %d", step)
		}
		forced = got
	}
	if !forced {
		t.Error("policy never forced FULL")
	}
}
