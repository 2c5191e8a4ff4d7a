// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

/*
Package sync keeps the local mirror coherent with the Subsonic server.

Manager Components:
  - DeltaPolicy: decides FULL vs DELTA from the stored checkpoint
  - Fetcher: the (circuit-breaker wrapped) Subsonic client
  - mirror.Store: where pages are merged and the checkpoint lives
  - Reachability: the process-wide reachability belief
  - Publisher: optional event bus for sync.completed / sync.failed

Triggers:
  - StartIfNeeded(): non-blocking, used by UI actions and the HTTP surface
  - ConnectivityTrigger: OS connectivity notifications
  - Scheduler: periodic trigger (gocron)

Thread Safety:
  - inProgress: atomic guard, at most one sync body runs at a time
  - mu: protects lifecycle and last-result state
  - All goroutines are tracked by a WaitGroup for coordinated shutdown;
    wg.Add happens under mu so it never races Stop's Wait
*/
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/sonicmirror/internal/config"
	"github.com/tomtom215/sonicmirror/internal/events"
	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/metrics"
	"github.com/tomtom215/sonicmirror/internal/mirror"
	"github.com/tomtom215/sonicmirror/internal/models"
	"github.com/tomtom215/sonicmirror/internal/subsonic"
)

// Fetcher is the part of the Subsonic client the manager needs.
// Implemented by *subsonic.Client and *subsonic.CircuitBreakerClient.
type Fetcher interface {
	Ping(ctx context.Context) error
	FetchLibraryFull(ctx context.Context, page subsonic.PageFunc) error
	FetchLibraryDelta(ctx context.Context, since time.Time, page subsonic.PageFunc) error
}

// Reachability is read before any network I/O.
type Reachability interface {
	IsReachable() bool
}

// Publisher publishes sync events. Implemented by *events.Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Status is the outcome of one trigger.
type Status string

const (
	StatusCompleted          Status = metrics.StatusCompleted
	StatusFailed             Status = metrics.StatusFailed
	StatusSkippedInProgress  Status = metrics.StatusSkippedInProgress
	StatusSkippedUnreachable Status = metrics.StatusSkippedUnreachable
	StatusSkippedStopped     Status = metrics.StatusSkippedStopped
)

// Result describes one trigger. Skipped results carry only Status.
type Result struct {
	Status         Status          `json:"status"`
	Mode           models.SyncMode `json:"mode,omitempty"`
	FellBackToFull bool            `json:"fell_back_to_full,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	StartedAt      time.Time       `json:"started_at,omitempty"`
	Duration       time.Duration   `json:"duration_ns,omitempty"`
	Merged         int             `json:"merged"`
	Skipped        int             `json:"skipped"`
	Pruned         int             `json:"pruned"`
	Checkpoint     int64           `json:"checkpoint,omitempty"`
	Error          string          `json:"error,omitempty"`

	// Err is the failure cause for Status == StatusFailed.
	Err error `json:"-"`
}

// Manager runs sync bodies against the mirror.
type Manager struct {
	store     mirror.Store
	client    Fetcher
	tracker   Reachability
	policy    DeltaPolicy
	cfg       config.SyncConfig
	publisher Publisher
	now       func() time.Time

	inProgress atomic.Bool

	mu              sync.RWMutex
	running         bool
	stopped         bool
	lastResult      *Result
	onSyncStarted   func()
	onSyncCompleted func(Result)
	scheduler       *Scheduler

	wg sync.WaitGroup
}

// NewManager creates a sync manager. publisher may be nil.
func NewManager(store mirror.Store, client Fetcher, tracker Reachability, cfg config.SyncConfig, publisher Publisher) *Manager {
	logging.Info().
		Dur("stale_threshold", cfg.StaleThreshold).
		Dur("interval", cfg.Interval).
		Int("page_size", cfg.PageSize).
		Msg("Sync manager config loaded")

	return &Manager{
		store:     store,
		client:    client,
		tracker:   tracker,
		policy:    DeltaPolicy{Threshold: cfg.StaleThreshold},
		cfg:       cfg,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetOnSyncCompleted sets the callback invoked after every completed or failed run.
func (m *Manager) SetOnSyncCompleted(callback func(Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSyncCompleted = callback
}

// SetOnSyncStarted sets the callback invoked when a run passes the in-progress
// and reachability guards.
func (m *Manager) SetOnSyncStarted(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSyncStarted = callback
}

// InProgress reports whether a sync body is running.
func (m *Manager) InProgress() bool {
	return m.inProgress.Load()
}

// LastResult returns the last completed or failed run, if any.
func (m *Manager) LastResult() (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastResult == nil {
		return Result{}, false
	}
	return *m.lastResult, true
}

// StartIfNeeded runs a sync on its own goroutine and never blocks the caller.
// Exactly one Result is delivered on the returned channel, which is then closed.
// After Stop, triggers are dropped with StatusSkippedStopped until the next Start.
func (m *Manager) StartIfNeeded(ctx context.Context) <-chan Result {
	ch := make(chan Result, 1)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		logging.Debug().Msg("Sync manager stopped, dropping trigger")
		metrics.RecordSyncRun("", metrics.StatusSkippedStopped, 0)
		ch <- Result{Status: StatusSkippedStopped}
		close(ch)
		return ch
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer close(ch)
		ch <- m.RunOnce(ctx)
	}()
	return ch
}

// RunOnce is the synchronous sync body. A concurrent caller gets
// StatusSkippedInProgress; an unreachable server gets
// StatusSkippedUnreachable without any network call. Errors are reported in
// the Result, never panicked.
func (m *Manager) RunOnce(ctx context.Context) Result {
	if !m.inProgress.CompareAndSwap(false, true) {
		logging.Debug().Msg("Sync already in progress, skipping trigger")
		metrics.RecordSyncRun("", metrics.StatusSkippedInProgress, 0)
		return Result{Status: StatusSkippedInProgress}
	}
	defer m.inProgress.Store(false)

	if !m.tracker.IsReachable() {
		logging.Debug().Msg("Server unreachable, skipping sync")
		metrics.RecordSyncRun("", metrics.StatusSkippedUnreachable, 0)
		return Result{Status: StatusSkippedUnreachable}
	}

	metrics.SyncInProgress.Set(1)
	defer metrics.SyncInProgress.Set(0)

	m.mu.RLock()
	started := m.onSyncStarted
	m.mu.RUnlock()
	if started != nil {
		started()
	}

	ctx = logging.ContextWithNewCorrelationID(ctx)
	start := m.now()
	result := Result{
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		StartedAt:     start,
	}

	if err := m.run(ctx, start, &result); err != nil {
		result.Status = StatusFailed
		result.Err = err
		result.Error = err.Error()
	} else {
		result.Status = StatusCompleted
	}
	result.Duration = m.now().Sub(start)

	m.finish(ctx, result)
	return result
}

func (m *Manager) run(ctx context.Context, start time.Time, result *Result) error {
	cp, err := m.store.GetCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	startMillis := start.UnixMilli()
	if m.policy.ShouldForceFull(cp.LastSyncedAt, startMillis) {
		return m.runFull(ctx, startMillis, result)
	}

	err = m.runDelta(ctx, cp, startMillis, result)
	if errors.Is(err, subsonic.ErrFullSyncRequired) {
		logging.Ctx(ctx).Info().Err(err).Msg("Server requires a full sync, falling back")
		metrics.SyncFullFallbacks.Inc()
		result.FellBackToFull = true
		return m.runFull(ctx, startMillis, result)
	}
	return err
}

func (m *Manager) runDelta(ctx context.Context, cp models.SyncCheckpoint, startMillis int64, result *Result) error {
	result.Mode = models.SyncModeDelta
	logging.Ctx(ctx).Info().
		Time("since", cp.Time()).
		Msg("Delta sync started")

	starred := make(map[string]struct{})
	err := m.client.FetchLibraryDelta(ctx, cp.Time(), func(page []models.Entity) error {
		for i := range page {
			if page[i].Starred {
				starred[page[i].ID] = struct{}{}
			}
		}
		r, err := m.store.MergeDelta(ctx, page)
		m.recordPage(result, r)
		return err
	})
	if err != nil {
		return err
	}
	if err := m.clearRemovedStars(ctx, starred, result); err != nil {
		return err
	}

	next := models.SyncCheckpoint{LastSyncedAt: startMillis, Mode: models.SyncModeDelta}
	if err := m.store.SetCheckpoint(ctx, next); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	result.Checkpoint = startMillis
	return nil
}

// clearRemovedStars unstars mirror items missing from the server's starred
// set. A delta always ends with the complete starred set, so anything starred
// locally but absent from it was unstarred on the server.
func (m *Manager) clearRemovedStars(ctx context.Context, starred map[string]struct{}, result *Result) error {
	local, err := m.store.ListStarred(ctx)
	if err != nil {
		return fmt.Errorf("list starred: %w", err)
	}

	var removed []models.Entity
	for _, item := range local {
		if _, ok := starred[item.ID]; ok {
			continue
		}
		e := item.Entity
		e.Starred = false
		removed = append(removed, e)
	}
	if len(removed) == 0 {
		return nil
	}

	r, err := m.store.MergeDelta(ctx, removed)
	m.recordPage(result, r)
	if err != nil {
		return fmt.Errorf("clear removed stars: %w", err)
	}
	logging.Ctx(ctx).Debug().Int("unstarred", len(removed)).Msg("Cleared stars removed on the server")
	return nil
}

func (m *Manager) runFull(ctx context.Context, startMillis int64, result *Result) error {
	result.Mode = models.SyncModeFull
	runID := uuid.NewString()
	logging.Ctx(ctx).Info().Str("run_id", runID).Msg("Full sync started")

	err := m.client.FetchLibraryFull(ctx, func(page []models.Entity) error {
		r, err := m.store.MergeFull(ctx, runID, page)
		m.recordPage(result, r)
		return err
	})
	if err != nil {
		if abortErr := m.store.AbortFull(context.WithoutCancel(ctx), runID); abortErr != nil {
			logging.Ctx(ctx).Warn().Err(abortErr).Str("run_id", runID).Msg("Failed to discard staging for aborted full sync")
		}
		return err
	}

	next := models.SyncCheckpoint{LastSyncedAt: startMillis, Mode: models.SyncModeFull}
	pruned, err := m.store.CommitFull(ctx, runID, next)
	result.Pruned = pruned
	metrics.MirrorEntitiesPruned.Add(float64(pruned))
	if err != nil {
		return fmt.Errorf("commit full sync: %w", err)
	}
	result.Checkpoint = startMillis
	return nil
}

func (m *Manager) recordPage(result *Result, r mirror.MergeResult) {
	result.Merged += r.Merged
	result.Skipped += r.Skipped
	metrics.RecordMerge(string(result.Mode), r.Merged, r.Skipped)
}

// finish records, publishes and reports a run that reached the sync body.
func (m *Manager) finish(ctx context.Context, result Result) {
	metrics.RecordSyncRun(string(result.Mode), string(result.Status), result.Duration)

	log := logging.Ctx(ctx)
	topic := events.TopicSyncCompleted
	if result.Status == StatusFailed {
		topic = events.TopicSyncFailed
		log.Error().
			Err(result.Err).
			Str("mode", string(result.Mode)).
			Int("merged", result.Merged).
			Dur("duration", result.Duration).
			Msg("Sync failed, checkpoint unchanged")
	} else {
		log.Info().
			Str("mode", string(result.Mode)).
			Bool("fell_back_to_full", result.FellBackToFull).
			Int("merged", result.Merged).
			Int("skipped", result.Skipped).
			Int("pruned", result.Pruned).
			Dur("duration", result.Duration).
			Msg("Sync completed")
	}

	m.mu.Lock()
	r := result
	m.lastResult = &r
	callback := m.onSyncCompleted
	m.mu.Unlock()

	if m.publisher != nil {
		if err := m.publisher.Publish(context.WithoutCancel(ctx), topic, result); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish sync event")
		}
	}
	if callback != nil {
		callback(result)
	}
}

// Start begins periodic synchronization and, if configured, an initial sync.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already running")
	}

	logging.Info().Msg("Starting sync manager...")

	var scheduler *Scheduler
	if m.cfg.Interval > 0 {
		var err error
		scheduler, err = NewScheduler()
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if err := scheduler.SchedulePeriodicSync(ctx, m.cfg.Interval, m); err != nil {
			m.mu.Unlock()
			return err
		}
		if gc, ok := m.store.(GarbageCollector); ok {
			if err := scheduler.ScheduleStoreGC(gcInterval, gc); err != nil {
				m.mu.Unlock()
				return err
			}
		}
		scheduler.Start()
	}
	m.scheduler = scheduler
	m.running = true
	m.stopped = false
	m.mu.Unlock()

	if m.cfg.SyncOnStart {
		m.StartIfNeeded(ctx)
	}
	return nil
}

// Stop shuts down the scheduler and waits for in-flight syncs.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is not running")
	}
	m.running = false
	m.stopped = true
	scheduler := m.scheduler
	m.scheduler = nil
	m.mu.Unlock()

	logging.Info().Msg("Stopping sync manager...")

	var err error
	if scheduler != nil {
		err = scheduler.Stop()
	}
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")
	return err
}
