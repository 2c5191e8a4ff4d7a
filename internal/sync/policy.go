// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package sync

import "time"

// StaleThreshold is the default age after which a DELTA sync is no longer
// trusted and a FULL sync is forced.
const StaleThreshold = 7 * 24 * time.Hour

// DeltaPolicy decides between FULL and DELTA for one run.
type DeltaPolicy struct {
	// Threshold replaces StaleThreshold when positive.
	Threshold time.Duration
}

// ShouldForceFull reports whether a FULL sync is required given the last
// successful sync time and now, both in epoch millis.
//
//   - last == 0 (never synced): true
//   - now - last < threshold: false
//   - now - last >= threshold: true
//   - now before last (clock moved backwards): false
//
// Any int64 inputs are accepted; the difference is computed without overflow.
func (p DeltaPolicy) ShouldForceFull(lastSyncedAt, now int64) bool {
	if lastSyncedAt == 0 {
		return true
	}
	if now <= lastSyncedAt {
		return false
	}

	threshold := p.Threshold
	if threshold <= 0 {
		threshold = StaleThreshold
	}

	// now > lastSyncedAt, so the unsigned difference is exact.
	elapsed := uint64(now) - uint64(lastSyncedAt)
	return elapsed >= uint64(threshold.Milliseconds())
}

// ShouldForceFull applies the default StaleThreshold.
func ShouldForceFull(lastSyncedAt, now int64) bool {
	return DeltaPolicy{}.ShouldForceFull(lastSyncedAt, now)
}
