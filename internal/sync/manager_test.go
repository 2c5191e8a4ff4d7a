// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/sonicmirror/internal/config"
	"github.com/tomtom215/sonicmirror/internal/events"
	"github.com/tomtom215/sonicmirror/internal/mirror"
	"github.com/tomtom215/sonicmirror/internal/models"
	"github.com/tomtom215/sonicmirror/internal/subsonic"
)

// mockFetcher records calls and delegates to optional func fields.
type mockFetcher struct {
	pingFunc  func(ctx context.Context) error
	fullFunc  func(ctx context.Context, page subsonic.PageFunc) error
	deltaFunc func(ctx context.Context, since time.Time, page subsonic.PageFunc) error

	pings  atomic.Int32
	fulls  atomic.Int32
	deltas atomic.Int32

	mu        sync.Mutex
	lastSince time.Time
}

func (f *mockFetcher) Ping(ctx context.Context) error {
	f.pings.Add(1)
	if f.pingFunc != nil {
		return f.pingFunc(ctx)
	}
	return nil
}

func (f *mockFetcher) FetchLibraryFull(ctx context.Context, page subsonic.PageFunc) error {
	f.fulls.Add(1)
	if f.fullFunc != nil {
		return f.fullFunc(ctx, page)
	}
	return nil
}

func (f *mockFetcher) FetchLibraryDelta(ctx context.Context, since time.Time, page subsonic.PageFunc) error {
	f.deltas.Add(1)
	f.mu.Lock()
	f.lastSince = since
	f.mu.Unlock()
	if f.deltaFunc != nil {
		return f.deltaFunc(ctx, since, page)
	}
	return nil
}

func (f *mockFetcher) networkCalls() int32 {
	return f.pings.Load() + f.fulls.Load() + f.deltas.Load()
}

type mockTracker struct{ reachable atomic.Bool }

func newMockTracker(reachable bool) *mockTracker {
	t := &mockTracker{}
	t.reachable.Store(reachable)
	return t
}

func (t *mockTracker) IsReachable() bool { return t.reachable.Load() }

type mockPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *mockPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *mockPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, store mirror.Store, fetcher Fetcher, reachable bool) *Manager {
	t.Helper()
	m := NewManager(store, fetcher, newMockTracker(reachable), config.SyncConfig{StaleThreshold: StaleThreshold}, nil)
	m.now = func() time.Time { return testNow }
	return m
}

func entity(id, parent string, kind models.EntityKind) models.Entity {
	return models.Entity{ID: id, Kind: kind, ParentID: parent, Title: "Title " + id}
}

func serveLibrary(entities ...models.Entity) func(context.Context, subsonic.PageFunc) error {
	return func(_ context.Context, page subsonic.PageFunc) error {
		return page(entities)
	}
}

func checkStatus(t *testing.T, r Result, want Status) {
	t.Helper()
	if r.Status != want {
		t.Fatalf("Status = %q, want %q (err: %v)", r.Status, want, r.Err)
	}
}

func checkCheckpoint(t *testing.T, store mirror.Store, wantAt int64, wantMode models.SyncMode) {
	t.Helper()
	cp, err := store.GetCheckpoint(context.Background())
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if cp.LastSyncedAt != wantAt || cp.Mode != wantMode {
		t.Errorf("checkpoint = %+v, want {%d %s}", cp, wantAt, wantMode)
	}
}

func TestRunOnce_FirstSyncIsFull(t *testing.T) {
	store := mirror.NewMemoryStore()
	fetcher := &mockFetcher{fullFunc: serveLibrary(
		entity("ar-1", models.RootFolderID, models.KindArtist),
		entity("al-1", "ar-1", models.KindAlbum),
	)}
	m := newTestManager(t, store, fetcher, true)

	r := m.RunOnce(context.Background())
	checkStatus(t, r, StatusCompleted)

	if r.Mode != models.SyncModeFull || r.Merged != 2 {
		t.Errorf("result = %+v", r)
	}
	if r.CorrelationID == "" {
		t.Error("expected a correlation id on the result")
	}
	if fetcher.deltas.Load() != 0 {
		t.Error("first sync must not attempt DELTA")
	}
	checkCheckpoint(t, store, testNow.UnixMilli(), models.SyncModeFull)
}

func TestRunOnce_DeltaWithinThreshold(t *testing.T) {
	store := mirror.NewMemoryStore()
	last := testNow.Add(-time.Hour)
	if err := store.SetCheckpoint(context.Background(), models.SyncCheckpoint{LastSyncedAt: last.UnixMilli(), Mode: models.SyncModeFull}); err != nil {
		t.Fatal(err)
	}
	fetcher := &mockFetcher{}
	m := newTestManager(t, store, fetcher, true)

	r := m.RunOnce(context.Background())
	checkStatus(t, r, StatusCompleted)

	if r.Mode != models.SyncModeDelta {
		t.Errorf("Mode = %q, want delta", r.Mode)
	}
	if !fetcher.lastSince.Equal(time.UnixMilli(last.UnixMilli())) {
		t.Errorf("delta since = %v, want %v", fetcher.lastSince, last)
	}
	if fetcher.fulls.Load() != 0 {
		t.Error("unexpected FULL fetch")
	}
	checkCheckpoint(t, store, testNow.UnixMilli(), models.SyncModeDelta)
}

func TestRunOnce_StaleCheckpointForcesFull(t *testing.T) {
	store := mirror.NewMemoryStore()
	stale := testNow.Add(-StaleThreshold).UnixMilli()
	_ = store.SetCheckpoint(context.Background(), models.SyncCheckpoint{LastSyncedAt: stale, Mode: models.SyncModeDelta})
	fetcher := &mockFetcher{}
	m := newTestManager(t, store, fetcher, true)

	r := m.RunOnce(context.Background())
	checkStatus(t, r, StatusCompleted)
	if r.Mode != models.SyncModeFull || fetcher.deltas.Load() != 0 {
		t.Errorf("stale checkpoint should force FULL, got %+v", r)
	}
}

func TestRunOnce_FullRequiredFallsBack(t *testing.T) {
	store := mirror.NewMemoryStore()
	_ = store.SetCheckpoint(context.Background(), models.SyncCheckpoint{LastSyncedAt: testNow.Add(-time.Minute).UnixMilli(), Mode: models.SyncModeFull})

	fetcher := &mockFetcher{
		deltaFunc: func(context.Context, time.Time, subsonic.PageFunc) error {
			return fmt.Errorf("%w: server reports no lastModified", subsonic.ErrFullSyncRequired)
		},
		fullFunc: serveLibrary(entity("ar-1", models.RootFolderID, models.KindArtist)),
	}
	m := newTestManager(t, store, fetcher, true)

	r := m.RunOnce(context.Background())
	checkStatus(t, r, StatusCompleted)
	if !r.FellBackToFull || r.Mode != models.SyncModeFull {
		t.Errorf("result = %+v, want FULL fallback", r)
	}
	if fetcher.deltas.Load() != 1 || fetcher.fulls.Load() != 1 {
		t.Errorf("calls: delta=%d full=%d", fetcher.deltas.Load(), fetcher.fulls.Load())
	}
	checkCheckpoint(t, store, testNow.UnixMilli(), models.SyncModeFull)
}

func TestRunOnce_FailureKeepsCheckpointAndMirror(t *testing.T) {
	store := mirror.NewMemoryStore()
	ctx := context.Background()

	good := &mockFetcher{fullFunc: serveLibrary(
		entity("ar-1", models.RootFolderID, models.KindArtist),
		entity("ar-2", models.RootFolderID, models.KindArtist),
	)}
	m := newTestManager(t, store, good, true)
	checkStatus(t, m.RunOnce(ctx), StatusCompleted)
	firstCheckpoint := testNow.UnixMilli()

	serverErr := &subsonic.APIError{Code: 0, Message: "boom"}
	bad := &mockFetcher{fullFunc: func(_ context.Context, page subsonic.PageFunc) error {
		if err := page([]models.Entity{entity("ar-1", models.RootFolderID, models.KindArtist)}); err != nil {
			return err
		}
		return serverErr
	}}
	m2 := newTestManager(t, store, bad, true)
	m2.policy = DeltaPolicy{Threshold: time.Nanosecond}
	m2.now = func() time.Time { return testNow.Add(time.Hour) }

	r := m2.RunOnce(ctx)
	checkStatus(t, r, StatusFailed)
	if !errors.Is(r.Err, serverErr) || r.Error == "" {
		t.Errorf("Err = %v, Error = %q", r.Err, r.Error)
	}

	checkCheckpoint(t, store, firstCheckpoint, models.SyncModeFull)
	if n, _ := store.Count(ctx); n != 2 {
		t.Errorf("aborted FULL pruned the mirror: count = %d, want 2", n)
	}
}

func TestRunOnce_StoreErrorAbortsFetch(t *testing.T) {
	store := mirror.NewMemoryStore()
	_ = store.Close()
	fetcher := &mockFetcher{fullFunc: serveLibrary(entity("ar-1", models.RootFolderID, models.KindArtist))}
	m := newTestManager(t, store, fetcher, true)

	r := m.RunOnce(context.Background())
	checkStatus(t, r, StatusFailed)
	if !errors.Is(r.Err, mirror.ErrClosed) {
		t.Errorf("Err = %v, want ErrClosed", r.Err)
	}
}

func TestRunOnce_UnreachableMakesNoCalls(t *testing.T) {
	store := mirror.NewMemoryStore()
	fetcher := &mockFetcher{}
	m := newTestManager(t, store, fetcher, false)

	r := m.RunOnce(context.Background())
	checkStatus(t, r, StatusSkippedUnreachable)
	if fetcher.networkCalls() != 0 {
		t.Errorf("network calls = %d, want 0", fetcher.networkCalls())
	}
	if _, ok := m.LastResult(); ok {
		t.Error("skipped runs should not replace LastResult")
	}
	checkCheckpoint(t, store, 0, models.SyncModeNone)
}

func TestStartIfNeeded_ConcurrentTriggersRunOnce(t *testing.T) {
	store := mirror.NewMemoryStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher := &mockFetcher{fullFunc: func(ctx context.Context, page subsonic.PageFunc) error {
		close(entered)
		<-release
		return page([]models.Entity{entity("ar-1", models.RootFolderID, models.KindArtist)})
	}}
	m := newTestManager(t, store, fetcher, true)
	ctx := context.Background()

	first := m.StartIfNeeded(ctx)
	<-entered
	if !m.InProgress() {
		t.Error("InProgress() = false while a sync is running")
	}

	const others = 8
	var skipped atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < others; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r := <-m.StartIfNeeded(ctx); r.Status == StatusSkippedInProgress {
				skipped.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)

	checkStatus(t, <-first, StatusCompleted)
	if _, ok := <-first; ok {
		t.Error("result channel should be closed after one Result")
	}
	if skipped.Load() != others {
		t.Errorf("skipped = %d, want %d", skipped.Load(), others)
	}
	if fetcher.fulls.Load() != 1 {
		t.Errorf("FULL fetches = %d, want 1", fetcher.fulls.Load())
	}
	if m.InProgress() {
		t.Error("guard not released after completion")
	}
}

func TestStartIfNeeded_DoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	fetcher := &mockFetcher{fullFunc: func(context.Context, subsonic.PageFunc) error {
		<-release
		return nil
	}}
	m := newTestManager(t, mirror.NewMemoryStore(), fetcher, true)

	done := make(chan (<-chan Result), 1)
	go func() { done <- m.StartIfNeeded(context.Background()) }()

	var results <-chan Result
	select {
	case results = <-done:
	case <-time.After(time.Second):
		t.Fatal("StartIfNeeded blocked on the sync body")
	}
	close(release)
	checkStatus(t, <-results, StatusCompleted)
}

func TestRunOnce_RepeatedFullIsIdempotent(t *testing.T) {
	store := mirror.NewMemoryStore()
	lib := []models.Entity{
		entity("ar-1", models.RootFolderID, models.KindArtist),
		entity("al-1", "ar-1", models.KindAlbum),
		entity("tr-1", "al-1", models.KindTrack),
	}
	fetcher := &mockFetcher{
		fullFunc: serveLibrary(lib...),
		deltaFunc: func(context.Context, time.Time, subsonic.PageFunc) error {
			return subsonic.ErrFullSyncRequired
		},
	}
	m := newTestManager(t, store, fetcher, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.now = func() time.Time { return testNow.Add(time.Duration(i) * time.Minute) }
		r := m.RunOnce(ctx)
		checkStatus(t, r, StatusCompleted)
		if r.Pruned != 0 {
			t.Errorf("run %d pruned %d", i, r.Pruned)
		}
	}
	if n, _ := store.Count(ctx); n != len(lib) {
		t.Errorf("count = %d, want %d", n, len(lib))
	}
}

func TestRunOnce_DeltaNeverRemoves(t *testing.T) {
	store := mirror.NewMemoryStore()
	ctx := context.Background()
	fetcher := &mockFetcher{
		fullFunc: serveLibrary(
			entity("ar-1", models.RootFolderID, models.KindArtist),
			entity("ar-2", models.RootFolderID, models.KindArtist),
		),
		deltaFunc: func(_ context.Context, _ time.Time, page subsonic.PageFunc) error {
			return page([]models.Entity{entity("ar-3", models.RootFolderID, models.KindArtist)})
		},
	}
	m := newTestManager(t, store, fetcher, true)
	checkStatus(t, m.RunOnce(ctx), StatusCompleted)

	m.now = func() time.Time { return testNow.Add(time.Hour) }
	r := m.RunOnce(ctx)
	checkStatus(t, r, StatusCompleted)
	if r.Mode != models.SyncModeDelta {
		t.Fatalf("Mode = %q, want delta", r.Mode)
	}
	if n, _ := store.Count(ctx); n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestRunOnce_DeltaClearsStarsRemovedOnServer(t *testing.T) {
	store := mirror.NewMemoryStore()
	ctx := context.Background()

	starredTrack := entity("tr-1", "al-1", models.KindTrack)
	starredTrack.Starred = true
	starredAlbum := entity("al-1", "ar-1", models.KindAlbum)
	starredAlbum.Starred = true

	fetcher := &mockFetcher{
		fullFunc: serveLibrary(entity("ar-1", models.RootFolderID, models.KindArtist), starredAlbum, starredTrack),
		// The server now reports only the album as starred.
		deltaFunc: func(_ context.Context, _ time.Time, page subsonic.PageFunc) error {
			return page([]models.Entity{starredAlbum})
		},
	}
	m := newTestManager(t, store, fetcher, true)
	checkStatus(t, m.RunOnce(ctx), StatusCompleted)

	m.now = func() time.Time { return testNow.Add(24 * time.Hour) }
	r := m.RunOnce(ctx)
	checkStatus(t, r, StatusCompleted)
	if r.Mode != models.SyncModeDelta {
		t.Fatalf("Mode = %q, want delta", r.Mode)
	}

	track, err := store.Get(ctx, "tr-1")
	if err != nil {
		t.Fatalf("Get(tr-1) error = %v", err)
	}
	if track.Starred {
		t.Error("tr-1 is still starred after the server unstarred it")
	}
	if track.ParentID != "al-1" || track.Title != starredTrack.Title {
		t.Errorf("unstarring changed other metadata: %+v", track)
	}
	if album, _ := store.Get(ctx, "al-1"); !album.Starred {
		t.Error("al-1 lost its star")
	}
	if n, _ := store.Count(ctx); n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestRunOnce_PublishesAndNotifies(t *testing.T) {
	store := mirror.NewMemoryStore()
	pub := &mockPublisher{}
	fetcher := &mockFetcher{}
	m := NewManager(store, fetcher, newMockTracker(true), config.SyncConfig{}, pub)

	var callbackResult atomic.Value
	m.SetOnSyncCompleted(func(r Result) { callbackResult.Store(r) })

	checkStatus(t, m.RunOnce(context.Background()), StatusCompleted)

	fetcher.fullFunc = func(context.Context, subsonic.PageFunc) error { return errors.New("server exploded") }
	m.policy = DeltaPolicy{Threshold: time.Nanosecond}
	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	checkStatus(t, m.RunOnce(context.Background()), StatusFailed)

	got := pub.published()
	want := []string{events.TopicSyncCompleted, events.TopicSyncFailed}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("published topics = %v, want %v", got, want)
	}

	r, ok := callbackResult.Load().(Result)
	if !ok || r.Status != StatusFailed {
		t.Errorf("callback result = %+v", r)
	}
	last, ok := m.LastResult()
	if !ok || last.Status != StatusFailed {
		t.Errorf("LastResult() = %+v, %v", last, ok)
	}
}

func TestRunOnce_StartedHookSkipsGuardedRuns(t *testing.T) {
	store := mirror.NewMemoryStore()
	tracker := newMockTracker(false)
	m := NewManager(store, &mockFetcher{}, tracker, config.SyncConfig{}, nil)

	var started atomic.Int32
	m.SetOnSyncStarted(func() { started.Add(1) })

	checkStatus(t, m.RunOnce(context.Background()), StatusSkippedUnreachable)
	if started.Load() != 0 {
		t.Fatalf("started hook ran %d times for a skipped run", started.Load())
	}

	tracker.reachable.Store(true)
	checkStatus(t, m.RunOnce(context.Background()), StatusCompleted)
	if started.Load() != 1 {
		t.Errorf("started hook ran %d times, want 1", started.Load())
	}
}

func TestRunOnce_CancelledContextFails(t *testing.T) {
	store := mirror.NewMemoryStore()
	fetcher := &mockFetcher{fullFunc: func(ctx context.Context, _ subsonic.PageFunc) error {
		return ctx.Err()
	}}
	m := newTestManager(t, store, fetcher, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := m.RunOnce(ctx)
	checkStatus(t, r, StatusFailed)
	checkCheckpoint(t, store, 0, models.SyncModeNone)
}

func TestManager_StartStop(t *testing.T) {
	store := mirror.NewMemoryStore()
	fetcher := &mockFetcher{}
	m := NewManager(store, fetcher, newMockTracker(true), config.SyncConfig{Interval: time.Hour, SyncOnStart: true}, nil)

	done := make(chan Result, 1)
	m.SetOnSyncCompleted(func(r Result) { done <- r })

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	select {
	case r := <-done:
		checkStatus(t, r, StatusCompleted)
	case <-time.After(2 * time.Second):
		t.Fatal("sync on start did not run")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := m.Stop(); err == nil {
		t.Error("second Stop() should fail")
	}
}

func TestStartIfNeeded_DroppedAfterStop(t *testing.T) {
	fetcher := &mockFetcher{}
	m := newTestManager(t, mirror.NewMemoryStore(), fetcher, true)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	checkStatus(t, <-m.StartIfNeeded(context.Background()), StatusSkippedStopped)
	if n := fetcher.networkCalls(); n != 0 {
		t.Errorf("network calls after Stop = %d, want 0", n)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	defer m.Stop()
	checkStatus(t, <-m.StartIfNeeded(context.Background()), StatusCompleted)
}

func TestStartIfNeeded_ConcurrentWithStop(t *testing.T) {
	m := newTestManager(t, mirror.NewMemoryStore(), &mockFetcher{}, true)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan Result, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				results <- <-m.StartIfNeeded(context.Background())
			}
		}()
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	wg.Wait()
	close(results)

	for r := range results {
		switch r.Status {
		case StatusCompleted, StatusSkippedInProgress, StatusSkippedStopped:
		default:
			t.Errorf("unexpected status %q", r.Status)
		}
	}
	if m.InProgress() {
		t.Error("sync still in progress after Stop and all triggers returned")
	}
}
