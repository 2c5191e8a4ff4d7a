// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package models

import "time"

// SyncMode is the kind of the last successful sync.
type SyncMode string

const (
	SyncModeNone  SyncMode = "none"
	SyncModeFull  SyncMode = "full"
	SyncModeDelta SyncMode = "delta"
)

// SyncCheckpoint is the durable record of the last successful sync.
// LastSyncedAt never moves backwards and is only written after a run
// completes without error.
type SyncCheckpoint struct {
	LastSyncedAt int64    `json:"last_synced_at"` // epoch millis, 0 = never
	Mode         SyncMode `json:"mode"`
}

// Time returns LastSyncedAt as a time.Time, or the zero time if never synced.
func (c SyncCheckpoint) Time() time.Time {
	if c.LastSyncedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.LastSyncedAt)
}

// ReachabilityState is the process-wide belief about whether the server answers.
type ReachabilityState int32

const (
	// ReachabilityUnknown is the cold-start state. It is treated as reachable.
	ReachabilityUnknown ReachabilityState = iota
	ReachabilityReachable
	ReachabilityUnreachable
)

// IsReachable reports whether network attempts should be made.
func (s ReachabilityState) IsReachable() bool {
	return s != ReachabilityUnreachable
}

func (s ReachabilityState) String() string {
	switch s {
	case ReachabilityReachable:
		return "reachable"
	case ReachabilityUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s ReachabilityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name. Unknown names decode to ReachabilityUnknown.
func (s *ReachabilityState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "reachable":
		*s = ReachabilityReachable
	case "unreachable":
		*s = ReachabilityUnreachable
	default:
		*s = ReachabilityUnknown
	}
	return nil
}
