// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

// Package mirror is the local, durable copy of the server's library metadata.
//
// Two implementations satisfy Store: BadgerStore for production and
// MemoryStore for tests and ephemeral runs. Both follow the same rules:
//
//   - Every merged page is validated; malformed entities are skipped and
//     counted, the rest of the page is applied.
//   - Downloaded and LocalPath are local-only and survive every server merge.
//   - A FULL run stages entities under a run ID. CommitFull removes every
//     entity the run did not stage, then writes the checkpoint last, so the
//     mirror ends up equal to the fetched set.
//   - A DELTA merge upserts by ID and never removes anything.
//   - The checkpoint never moves backwards.
package mirror

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/tomtom215/sonicmirror/internal/config"
	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/models"
	"github.com/tomtom215/sonicmirror/internal/validation"
)

var (
	// ErrNotFound is returned when no item exists for an ID.
	ErrNotFound = errors.New("mirror: item not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("mirror: store is closed")

	// ErrEmptyRunID is returned when a FULL merge or commit has no run ID.
	ErrEmptyRunID = errors.New("mirror: run ID cannot be empty")
)

// MergeResult counts the outcome of one merged page.
type MergeResult struct {
	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
}

// Add accumulates r into m.
func (m *MergeResult) Add(r MergeResult) {
	m.Merged += r.Merged
	m.Skipped += r.Skipped
}

// Store is the mirror contract used by the sync manager, the offline browser
// and the HTTP surface.
type Store interface {
	GetCheckpoint(ctx context.Context) (models.SyncCheckpoint, error)
	SetCheckpoint(ctx context.Context, cp models.SyncCheckpoint) error

	MergeFull(ctx context.Context, runID string, entities []models.Entity) (MergeResult, error)
	CommitFull(ctx context.Context, runID string, cp models.SyncCheckpoint) (int, error)
	AbortFull(ctx context.Context, runID string) error
	MergeDelta(ctx context.Context, entities []models.Entity) (MergeResult, error)

	ListFolder(ctx context.Context, folderID string) ([]models.CachedItem, error)
	ListDownloaded(ctx context.Context) ([]models.CachedItem, error)
	ListStarred(ctx context.Context) ([]models.CachedItem, error)
	Get(ctx context.Context, id string) (models.CachedItem, error)
	Count(ctx context.Context) (int, error)

	MarkDownloaded(ctx context.Context, id, localPath string) error
	RemoveDownload(ctx context.Context, id string) error

	Close() error
}

// validEntities splits a page into entities that pass validation and a skip
// count. The input slice is not modified.
func validEntities(entities []models.Entity) ([]models.Entity, int) {
	valid := make([]models.Entity, 0, len(entities))
	skipped := 0
	for i := range entities {
		if err := validation.ValidateStruct(&entities[i]); err != nil {
			skipped++
			logging.Debug().
				Str("id", entities[i].ID).
				Err(err).
				Msg("Skipping malformed entity")
			continue
		}
		valid = append(valid, entities[i])
	}
	return valid, skipped
}

// mergeItem applies server metadata onto an existing record, keeping local state.
func mergeItem(existing *models.CachedItem, entity models.Entity, now int64) models.CachedItem {
	item := models.CachedItem{Entity: entity, UpdatedAt: now}
	if existing != nil {
		item.Downloaded = existing.Downloaded
		item.LocalPath = existing.LocalPath
	}
	return item
}

// advances reports whether next may replace current.
func advances(current, next models.SyncCheckpoint) bool {
	return next.LastSyncedAt >= current.LastSyncedAt
}

// sortItems orders a folder listing: containers by title, tracks by disc,
// track number, then title. ID breaks ties so listings are stable.
func sortItems(items []models.CachedItem) {
	slices.SortFunc(items, func(a, b models.CachedItem) int {
		if a.Kind == models.KindTrack && b.Kind == models.KindTrack {
			if c := cmp.Compare(a.Disc, b.Disc); c != 0 {
				return c
			}
			if c := cmp.Compare(a.Track, b.Track); c != 0 {
				return c
			}
		}
		if c := cmp.Compare(a.Title, b.Title); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Open returns the BadgerDB store described by cfg. With InMemory set the
// database lives only for the life of the process.
func Open(cfg config.StoreConfig) (*BadgerStore, error) {
	return OpenBadger(BadgerOptions{Path: cfg.Path, InMemory: cfg.InMemory, SyncWrites: cfg.SyncWrites})
}
