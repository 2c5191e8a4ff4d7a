// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestReachabilityState_IsReachable(t *testing.T) {
	tests := []struct {
		state ReachabilityState
		want  bool
	}{
		{ReachabilityUnknown, true},
		{ReachabilityReachable, true},
		{ReachabilityUnreachable, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsReachable(); got != tt.want {
				t.Errorf("IsReachable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReachabilityState_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]ReachabilityState{"state": ReachabilityUnreachable})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"state":"unreachable"}` {
		t.Errorf("Marshal() = %s", data)
	}
}

func TestReachabilityState_UnmarshalText(t *testing.T) {
	for _, want := range []ReachabilityState{ReachabilityUnknown, ReachabilityReachable, ReachabilityUnreachable} {
		var got ReachabilityState
		if err := got.UnmarshalText([]byte(want.String())); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", want, err)
		}
		if got != want {
			t.Errorf("UnmarshalText(%q) = %v", want, got)
		}
	}
}

func TestSyncCheckpoint_Time(t *testing.T) {
	if !(SyncCheckpoint{}).Time().IsZero() {
		t.Error("zero checkpoint should map to zero time")
	}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cp := SyncCheckpoint{LastSyncedAt: ts.UnixMilli(), Mode: SyncModeFull}
	if !cp.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", cp.Time(), ts)
	}
}

func TestCachedItem_IsContainer(t *testing.T) {
	tests := []struct {
		kind EntityKind
		want bool
	}{
		{KindArtist, true},
		{KindAlbum, true},
		{KindTrack, false},
	}
	for _, tt := range tests {
		item := CachedItem{Entity: Entity{Kind: tt.kind}}
		if got := item.IsContainer(); got != tt.want {
			t.Errorf("%s: IsContainer() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
