// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package subsonic

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/sonicmirror/internal/config"
	"github.com/tomtom215/sonicmirror/internal/models"
)

func testBreakerConfig() config.SyncConfig {
	return config.SyncConfig{
		BreakerMinRequests:  2,
		BreakerFailureRatio: 0.5,
		BreakerTimeout:      time.Minute,
	}
}

func TestCircuitBreaker_OpensOnServerFailures(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client, _ := newTestClient(t, fs, 10)
	cbc := NewCircuitBreakerClient(client, testBreakerConfig())

	for i := 0; i < 2; i++ {
		if err := cbc.Ping(context.Background()); err == nil {
			t.Fatalf("ping %d: expected error", i)
		}
	}
	if cbc.State() != "open" {
		t.Fatalf("State() = %q, want open", cbc.State())
	}

	err := cbc.Ping(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	checkIntEqual(t, "ping calls reaching server", fs.count("ping"), 2)
}

func TestCircuitBreaker_IgnoresNonServerErrors(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("getIndexes", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, `"indexes":{"lastModified":0}`)
	})
	fs.handle("search3", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, `"searchResult3":{"artist":[{"id":"ar-1","name":"A"}]}`)
	})
	client, _ := newTestClient(t, fs, 10)
	cbc := NewCircuitBreakerClient(client, testBreakerConfig())

	storeErr := errors.New("store closed")
	for i := 0; i < 3; i++ {
		err := cbc.FetchLibraryDelta(context.Background(), time.UnixMilli(1), func([]models.Entity) error { return nil })
		if !errors.Is(err, ErrFullSyncRequired) {
			t.Fatalf("expected ErrFullSyncRequired, got %v", err)
		}
		err = cbc.FetchLibraryFull(context.Background(), func([]models.Entity) error { return storeErr })
		if !errors.Is(err, storeErr) {
			t.Fatalf("expected page error, got %v", err)
		}
	}

	if cbc.State() != "closed" {
		t.Errorf("State() = %q, want closed", cbc.State())
	}
}
