// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

// Package offline is the browse state machine over the local mirror.
//
// A Browser owns a Stack of folder snapshots and publishes an immutable
// UIState to its subscribers every time something they render changes:
// loading begins or ends, connectivity flips, or the stack moves.
package offline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/metrics"
	"github.com/tomtom215/sonicmirror/internal/mirror"
	"github.com/tomtom215/sonicmirror/internal/models"
)

var (
	// ErrNotOpen is returned by navigation calls before Open or after Close.
	ErrNotOpen = errors.New("offline: browser is not open")

	// ErrNotContainer is returned when entering a track.
	ErrNotContainer = errors.New("offline: item cannot be entered")
)

// RootTitle is the title of the bottom frame.
const RootTitle = "Library"

// Reachability is the part of reachability.Tracker the browser needs.
type Reachability interface {
	IsReachable() bool
	Subscribe(fn func(reachable bool)) (unsubscribe func())
}

// UIState is the snapshot handed to the presentation layer. A new value is
// built on every change; published values are never modified.
type UIState struct {
	Loading   bool                `json:"loading"`
	Offline   bool                `json:"offline"`
	Downloads []models.CachedItem `json:"downloads"`
	Stack     []Frame             `json:"stack"`
}

// Options configures a Browser.
type Options struct {
	// DownloadedOnly hides items with no downloaded content beneath them.
	DownloadedOnly bool
}

// Browser is the offline browse state. Safe for concurrent use.
type Browser struct {
	store   mirror.Store
	tracker Reachability
	opts    Options

	mu          sync.Mutex
	stack       *Stack
	loading     bool
	state       UIState
	subscribers map[int]chan UIState
	nextID      int
	untrack     func()
}

// NewBrowser creates a closed browser.
func NewBrowser(store mirror.Store, tracker Reachability, opts Options) *Browser {
	return &Browser{
		store:       store,
		tracker:     tracker,
		opts:        opts,
		subscribers: make(map[int]chan UIState),
	}
}

// Open loads the root frame. Opening an open browser resets it to the root.
func (b *Browser) Open(ctx context.Context) error {
	items, err := b.listFolder(ctx, models.RootFolderID)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stack = NewStack(Frame{FolderID: models.RootFolderID, Title: RootTitle, Items: items})
	if b.untrack == nil && b.tracker != nil {
		b.untrack = b.tracker.Subscribe(func(bool) { b.rebuild() })
	}
	b.publishLocked()
	return nil
}

// Enter pushes a snapshot of folderID's children.
func (b *Browser) Enter(ctx context.Context, folderID string) error {
	if !b.isOpen() {
		return ErrNotOpen
	}

	folder, err := b.store.Get(ctx, folderID)
	if err != nil {
		return fmt.Errorf("enter %s: %w", folderID, err)
	}
	if !folder.IsContainer() {
		return ErrNotContainer
	}
	items, err := b.listFolder(ctx, folderID)
	if err != nil {
		return fmt.Errorf("enter %s: %w", folderID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stack == nil {
		return ErrNotOpen
	}
	b.stack.Push(Frame{FolderID: folderID, Title: folder.Title, Items: items})
	b.publishLocked()
	return nil
}

// Back pops the current frame. It returns true, changing nothing, when the
// browser is already at the root (or not open), so the caller can leave the
// screen instead.
func (b *Browser) Back() (atRoot bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stack == nil {
		return true
	}
	if _, ok := b.stack.Pop(); !ok {
		return true
	}
	b.publishLocked()
	return false
}

// Refresh re-reads the current frame from the mirror.
func (b *Browser) Refresh(ctx context.Context) error {
	b.mu.Lock()
	if b.stack == nil {
		b.mu.Unlock()
		return ErrNotOpen
	}
	current := b.stack.Current()
	b.mu.Unlock()

	items, err := b.listFolder(ctx, current.FolderID)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", current.FolderID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stack == nil {
		return ErrNotOpen
	}
	// Navigation may have moved while the mirror was read.
	if b.stack.Current().FolderID != current.FolderID {
		return nil
	}
	current.Items = items
	b.stack.Replace(current)
	b.publishLocked()
	return nil
}

// SetLoading marks a sync as started or finished.
func (b *Browser) SetLoading(loading bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loading == loading {
		return
	}
	b.loading = loading
	b.publishLocked()
}

// SyncFinished ends Loading and, on success, refreshes the current frame.
func (b *Browser) SyncFinished(ctx context.Context, succeeded bool) {
	b.SetLoading(false)
	if !succeeded || !b.isOpen() {
		return
	}
	if err := b.Refresh(ctx); err != nil && !errors.Is(err, ErrNotOpen) {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to refresh browser after sync")
	}
}

// Close discards the stack and ends every subscription.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stack = nil
	b.loading = false
	if b.untrack != nil {
		b.untrack()
		b.untrack = nil
	}
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.state = UIState{}
	metrics.OfflineStackDepth.Set(0)
	metrics.OfflineSnapshotSubscribers.Set(0)
}

// State returns the latest snapshot.
func (b *Browser) State() UIState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Depth returns the stack depth, or 0 when closed.
func (b *Browser) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stack == nil {
		return 0
	}
	return b.stack.Depth()
}

// Subscribe returns a channel that always holds the latest snapshot, starting
// with the current one. Slow readers skip intermediate states. The channel is
// closed by cancel or Close.
func (b *Browser) Subscribe() (<-chan UIState, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan UIState, 1)
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	ch <- b.state
	metrics.OfflineSnapshotSubscribers.Set(float64(len(b.subscribers)))

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(c)
				metrics.OfflineSnapshotSubscribers.Set(float64(len(b.subscribers)))
			}
		})
	}
}

func (b *Browser) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stack != nil
}

// rebuild republishes without any stack change (connectivity flips).
func (b *Browser) rebuild() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stack == nil {
		return
	}
	b.publishLocked()
}

// publishLocked builds a fresh UIState and hands it to every subscriber.
// Must be called with mu held.
func (b *Browser) publishLocked() {
	state := UIState{
		Loading: b.loading,
		Offline: b.tracker != nil && !b.tracker.IsReachable(),
	}
	if b.stack != nil {
		state.Downloads = slices.Clone(b.stack.Current().Items)
		state.Stack = b.stack.Frames()
		metrics.OfflineStackDepth.Set(float64(b.stack.Depth()))
	}
	b.state = state

	for _, ch := range b.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
}

// listFolder reads a folder, applying the DownloadedOnly filter.
func (b *Browser) listFolder(ctx context.Context, folderID string) ([]models.CachedItem, error) {
	items, err := b.store.ListFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if !b.opts.DownloadedOnly {
		return items, nil
	}

	keep, err := b.downloadedAncestors(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(items, func(item models.CachedItem) bool {
		if item.Downloaded {
			return false
		}
		_, ok := keep[item.ID]
		return !ok
	}), nil
}

// downloadedAncestors returns every container that has downloaded content
// somewhere beneath it.
func (b *Browser) downloadedAncestors(ctx context.Context) (map[string]struct{}, error) {
	downloads, err := b.store.ListDownloaded(ctx)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]struct{})
	for _, item := range downloads {
		parent := item.ParentID
		for parent != "" && parent != models.RootFolderID {
			if _, seen := keep[parent]; seen {
				break
			}
			keep[parent] = struct{}{}
			p, err := b.store.Get(ctx, parent)
			if errors.Is(err, mirror.ErrNotFound) {
				break
			}
			if err != nil {
				return nil, err
			}
			parent = p.ParentID
		}
	}
	return keep, nil
}
