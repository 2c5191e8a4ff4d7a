// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/sonicmirror/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a Store held entirely in maps. Used by tests and by callers
// that do not need persistence.
type MemoryStore struct {
	mu         sync.RWMutex
	items      map[string]models.CachedItem
	children   map[string]map[string]struct{}
	runs       map[string]map[string]struct{}
	checkpoint models.SyncCheckpoint
	closed     bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:      make(map[string]models.CachedItem),
		children:   make(map[string]map[string]struct{}),
		runs:       make(map[string]map[string]struct{}),
		checkpoint: models.SyncCheckpoint{Mode: models.SyncModeNone},
	}
}

func (m *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return ErrClosed
	}
	return nil
}

// GetCheckpoint returns the stored checkpoint.
func (m *MemoryStore) GetCheckpoint(ctx context.Context) (models.SyncCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return models.SyncCheckpoint{}, err
	}
	return m.checkpoint, nil
}

// SetCheckpoint stores cp unless it would move the checkpoint backwards.
func (m *MemoryStore) SetCheckpoint(ctx context.Context, cp models.SyncCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	m.setCheckpointLocked(cp)
	return nil
}

func (m *MemoryStore) setCheckpointLocked(cp models.SyncCheckpoint) {
	if advances(m.checkpoint, cp) {
		m.checkpoint = cp
	}
}

func (m *MemoryStore) upsertLocked(entity models.Entity, now int64) {
	var existing *models.CachedItem
	if prev, ok := m.items[entity.ID]; ok {
		existing = &prev
		if prev.ParentID != entity.ParentID {
			delete(m.children[prev.ParentID], entity.ID)
		}
	}
	m.items[entity.ID] = mergeItem(existing, entity, now)

	kids, ok := m.children[entity.ParentID]
	if !ok {
		kids = make(map[string]struct{})
		m.children[entity.ParentID] = kids
	}
	kids[entity.ID] = struct{}{}
}

// MergeFull stages a page of a FULL run under runID.
func (m *MemoryStore) MergeFull(ctx context.Context, runID string, entities []models.Entity) (MergeResult, error) {
	if runID == "" {
		return MergeResult{}, ErrEmptyRunID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return MergeResult{}, err
	}

	valid, skipped := validEntities(entities)
	staged, ok := m.runs[runID]
	if !ok {
		staged = make(map[string]struct{})
		m.runs[runID] = staged
	}
	now := time.Now().UnixMilli()
	for _, e := range valid {
		m.upsertLocked(e, now)
		staged[e.ID] = struct{}{}
	}
	return MergeResult{Merged: len(valid), Skipped: skipped}, nil
}

// MergeDelta upserts a page by ID. Nothing is removed.
func (m *MemoryStore) MergeDelta(ctx context.Context, entities []models.Entity) (MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return MergeResult{}, err
	}

	valid, skipped := validEntities(entities)
	now := time.Now().UnixMilli()
	for _, e := range valid {
		m.upsertLocked(e, now)
	}
	return MergeResult{Merged: len(valid), Skipped: skipped}, nil
}

// CommitFull removes every item runID did not stage, then writes cp.
func (m *MemoryStore) CommitFull(ctx context.Context, runID string, cp models.SyncCheckpoint) (int, error) {
	if runID == "" {
		return 0, ErrEmptyRunID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return 0, err
	}

	staged := m.runs[runID]
	pruned := 0
	for id, item := range m.items {
		if _, ok := staged[id]; ok {
			continue
		}
		delete(m.items, id)
		delete(m.children[item.ParentID], id)
		pruned++
	}
	delete(m.runs, runID)

	m.setCheckpointLocked(cp)
	return pruned, nil
}

// AbortFull discards the staging set of an unfinished FULL run.
func (m *MemoryStore) AbortFull(ctx context.Context, runID string) error {
	if runID == "" {
		return ErrEmptyRunID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	delete(m.runs, runID)
	return nil
}

// ListFolder returns the children of folderID in display order.
func (m *MemoryStore) ListFolder(ctx context.Context, folderID string) ([]models.CachedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	kids := m.children[folderID]
	items := make([]models.CachedItem, 0, len(kids))
	for id := range kids {
		items = append(items, m.items[id])
	}
	sortItems(items)
	return items, nil
}

// ListDownloaded returns every item with local content.
func (m *MemoryStore) ListDownloaded(ctx context.Context) ([]models.CachedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	items := make([]models.CachedItem, 0)
	for _, item := range m.items {
		if item.Downloaded {
			items = append(items, item)
		}
	}
	sortItems(items)
	return items, nil
}

// ListStarred returns every item the server reported as starred.
func (m *MemoryStore) ListStarred(ctx context.Context) ([]models.CachedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	items := make([]models.CachedItem, 0)
	for _, item := range m.items {
		if item.Starred {
			items = append(items, item)
		}
	}
	sortItems(items)
	return items, nil
}

// Get returns one item or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, id string) (models.CachedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return models.CachedItem{}, err
	}
	item, ok := m.items[id]
	if !ok {
		return models.CachedItem{}, ErrNotFound
	}
	return item, nil
}

// Count returns the number of items.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	return len(m.items), nil
}

// MarkDownloaded records that id has local content at localPath.
func (m *MemoryStore) MarkDownloaded(ctx context.Context, id, localPath string) error {
	return m.updateLocal(ctx, id, func(item *models.CachedItem) {
		item.Downloaded = true
		item.LocalPath = localPath
	})
}

// RemoveDownload clears the local content of id.
func (m *MemoryStore) RemoveDownload(ctx context.Context, id string) error {
	return m.updateLocal(ctx, id, func(item *models.CachedItem) {
		item.Downloaded = false
		item.LocalPath = ""
	})
}

func (m *MemoryStore) updateLocal(ctx context.Context, id string, fn func(*models.CachedItem)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	fn(&item)
	m.items[id] = item
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
