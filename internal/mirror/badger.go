// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/models"
)

// Key prefixes for BadgerDB storage. IDs never contain control characters
// (enforced by the entityid validator), so NUL separates compound keys.
const (
	itemKeyPrefix     = "item:"
	childKeyPrefix    = "child:"
	downloadKeyPrefix = "dl:"
	starKeyPrefix     = "star:"
	runKeyPrefix      = "run:"
	checkpointKey     = "meta:checkpoint"
	keySep            = "\x00"
)

// defaultGCRatio is the value log discard ratio used by RunGC.
const defaultGCRatio = 0.5

func itemKey(id string) []byte          { return []byte(itemKeyPrefix + id) }
func childPrefix(parent string) []byte  { return []byte(childKeyPrefix + parent + keySep) }
func childKey(parent, id string) []byte { return []byte(childKeyPrefix + parent + keySep + id) }
func downloadKey(id string) []byte      { return []byte(downloadKeyPrefix + id) }
func starKey(id string) []byte          { return []byte(starKeyPrefix + id) }
func runPrefix(runID string) []byte     { return []byte(runKeyPrefix + runID + keySep) }
func runKey(runID, id string) []byte    { return []byte(runKeyPrefix + runID + keySep + id) }

var _ Store = (*BadgerStore)(nil)

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

// BadgerStore implements Store using BadgerDB for durable storage.
// Items are JSON encoded; folder membership, downloads, stars and FULL-run
// staging are kept as key-only index entries.
type BadgerStore struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool

	// writeMu serializes read-modify-write transactions so concurrent
	// writers never hit badger.ErrConflict.
	writeMu sync.Mutex
}

// OpenBadger opens (or creates) the mirror database.
func OpenBadger(o BadgerOptions) (*BadgerStore, error) {
	var opts badger.Options
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if o.Path == "" {
			return nil, errors.New("mirror: path is required unless in_memory is set")
		}
		opts = badger.DefaultOptions(o.Path)
		opts.SyncWrites = o.SyncWrites
	}

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", o.Path).
		Bool("in_memory", o.InMemory).
		Bool("sync_writes", o.SyncWrites).
		Msg("Mirror store opened")

	return &BadgerStore{db: db}, nil
}

// acquire holds the read lock for the duration of one operation.
func (s *BadgerStore) acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	return s.mu.RUnlock, nil
}

// acquireWrite is acquire plus the writer lock.
func (s *BadgerStore) acquireWrite(ctx context.Context) (func(), error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	return func() {
		s.writeMu.Unlock()
		release()
	}, nil
}

// GetCheckpoint returns the stored checkpoint, or a zero NONE checkpoint.
func (s *BadgerStore) GetCheckpoint(ctx context.Context) (models.SyncCheckpoint, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return models.SyncCheckpoint{}, err
	}
	defer release()

	var cp models.SyncCheckpoint
	err = s.db.View(func(txn *badger.Txn) error {
		cp, err = readCheckpoint(txn)
		return err
	})
	return cp, err
}

// SetCheckpoint stores cp unless it would move the checkpoint backwards.
func (s *BadgerStore) SetCheckpoint(ctx context.Context, cp models.SyncCheckpoint) error {
	release, err := s.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	return s.db.Update(func(txn *badger.Txn) error {
		return writeCheckpoint(txn, cp)
	})
}

func readCheckpoint(txn *badger.Txn) (models.SyncCheckpoint, error) {
	cp := models.SyncCheckpoint{Mode: models.SyncModeNone}
	item, err := txn.Get([]byte(checkpointKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cp, nil
	}
	if err != nil {
		return cp, fmt.Errorf("get checkpoint: %w", err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &cp)
	})
	if err != nil {
		return cp, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

func writeCheckpoint(txn *badger.Txn, cp models.SyncCheckpoint) error {
	current, err := readCheckpoint(txn)
	if err != nil {
		return err
	}
	if !advances(current, cp) {
		logging.Debug().
			Int64("current", current.LastSyncedAt).
			Int64("rejected", cp.LastSyncedAt).
			Msg("Ignoring checkpoint older than the stored one")
		return nil
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return txn.Set([]byte(checkpointKey), data)
}

func getItem(txn *badger.Txn, id string) (*models.CachedItem, error) {
	item, err := txn.Get(itemKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	var ci models.CachedItem
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ci)
	}); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", id, err)
	}
	return &ci, nil
}

func putItem(txn *badger.Txn, ci *models.CachedItem) error {
	data, err := json.Marshal(ci)
	if err != nil {
		return fmt.Errorf("marshal item %s: %w", ci.ID, err)
	}
	return txn.Set(itemKey(ci.ID), data)
}

// upsert merges entity into the store inside txn, moving the folder index
// entry if the parent changed.
func upsert(txn *badger.Txn, entity models.Entity, now int64) error {
	existing, err := getItem(txn, entity.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil && existing.ParentID != entity.ParentID {
		if err := txn.Delete(childKey(existing.ParentID, entity.ID)); err != nil {
			return err
		}
	}

	item := mergeItem(existing, entity, now)
	if err := putItem(txn, &item); err != nil {
		return err
	}
	if item.Starred {
		err = txn.Set(starKey(entity.ID), nil)
	} else {
		err = txn.Delete(starKey(entity.ID))
	}
	if err != nil {
		return err
	}
	return txn.Set(childKey(entity.ParentID, entity.ID), nil)
}

// applyPage runs fn for every entity in as few transactions as possible.
// A page normally fits in one transaction; on ErrTxnTooBig the pending work
// is committed and the entity is retried in a fresh transaction.
func (s *BadgerStore) applyPage(entities []models.Entity, fn func(txn *badger.Txn, e models.Entity) error) error {
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, e := range entities {
		err := fn(txn, e)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return fmt.Errorf("commit partial page: %w", err)
			}
			txn = s.db.NewTransaction(true)
			err = fn(txn, e)
		}
		if err != nil {
			return err
		}
	}
	return txn.Commit()
}

// MergeFull stages a page of a FULL run under runID.
func (s *BadgerStore) MergeFull(ctx context.Context, runID string, entities []models.Entity) (MergeResult, error) {
	if runID == "" {
		return MergeResult{}, ErrEmptyRunID
	}
	release, err := s.acquireWrite(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	defer release()

	valid, skipped := validEntities(entities)
	now := time.Now().UnixMilli()
	err = s.applyPage(valid, func(txn *badger.Txn, e models.Entity) error {
		if err := upsert(txn, e, now); err != nil {
			return err
		}
		return txn.Set(runKey(runID, e.ID), nil)
	})
	if err != nil {
		return MergeResult{Skipped: skipped}, fmt.Errorf("merge full page: %w", err)
	}
	return MergeResult{Merged: len(valid), Skipped: skipped}, nil
}

// MergeDelta upserts a page by ID. Nothing is removed.
func (s *BadgerStore) MergeDelta(ctx context.Context, entities []models.Entity) (MergeResult, error) {
	release, err := s.acquireWrite(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	defer release()

	valid, skipped := validEntities(entities)
	now := time.Now().UnixMilli()
	err = s.applyPage(valid, func(txn *badger.Txn, e models.Entity) error {
		return upsert(txn, e, now)
	})
	if err != nil {
		return MergeResult{Skipped: skipped}, fmt.Errorf("merge delta page: %w", err)
	}
	return MergeResult{Merged: len(valid), Skipped: skipped}, nil
}

// CommitFull removes every item runID did not stage, clears the staging
// entries and finally writes cp. It returns the number of pruned items.
func (s *BadgerStore) CommitFull(ctx context.Context, runID string, cp models.SyncCheckpoint) (int, error) {
	if runID == "" {
		return 0, ErrEmptyRunID
	}
	release, err := s.acquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	var stale []models.CachedItem
	var staging [][]byte

	err = s.db.View(func(txn *badger.Txn) error {
		staging = collectKeys(txn, runPrefix(runID))

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(itemKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := strings.TrimPrefix(string(it.Item().Key()), itemKeyPrefix)
			_, err := txn.Get(runKey(runID, id))
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			var ci models.CachedItem
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ci)
			}); err != nil {
				return fmt.Errorf("decode item %s: %w", id, err)
			}
			stale = append(stale, ci)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan for stale items: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i := range stale {
		ci := &stale[i]
		for _, key := range [][]byte{itemKey(ci.ID), childKey(ci.ParentID, ci.ID), downloadKey(ci.ID), starKey(ci.ID)} {
			if err := wb.Delete(key); err != nil {
				return 0, fmt.Errorf("prune %s: %w", ci.ID, err)
			}
		}
	}
	for _, key := range staging {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("clear staging: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush prune batch: %w", err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return writeCheckpoint(txn, cp)
	}); err != nil {
		return len(stale), fmt.Errorf("write checkpoint: %w", err)
	}
	return len(stale), nil
}

// AbortFull discards the staging entries of an unfinished FULL run. Items it
// already merged stay; the next successful FULL run prunes anything stale.
func (s *BadgerStore) AbortFull(ctx context.Context, runID string) error {
	if runID == "" {
		return ErrEmptyRunID
	}
	release, err := s.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	var staging [][]byte
	if err := s.db.View(func(txn *badger.Txn) error {
		staging = collectKeys(txn, runPrefix(runID))
		return nil
	}); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range staging {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("clear staging: %w", err)
		}
	}
	return wb.Flush()
}

// collectKeys copies every key under prefix (can't delete while iterating).
func collectKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// listByIndex resolves every index key under prefix to its item.
func listByIndex(txn *badger.Txn, prefix []byte) ([]models.CachedItem, error) {
	keys := collectKeys(txn, prefix)
	items := make([]models.CachedItem, 0, len(keys))
	for _, key := range keys {
		id := string(key[len(prefix):])
		ci, err := getItem(txn, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, *ci)
	}
	return items, nil
}

// ListFolder returns the children of folderID in display order. An unknown
// folder is empty.
func (s *BadgerStore) ListFolder(ctx context.Context, folderID string) ([]models.CachedItem, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var items []models.CachedItem
	err = s.db.View(func(txn *badger.Txn) error {
		items, err = listByIndex(txn, childPrefix(folderID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", folderID, err)
	}
	sortItems(items)
	return items, nil
}

// ListDownloaded returns every item with local content.
func (s *BadgerStore) ListDownloaded(ctx context.Context) ([]models.CachedItem, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var items []models.CachedItem
	err = s.db.View(func(txn *badger.Txn) error {
		items, err = listByIndex(txn, []byte(downloadKeyPrefix))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	sortItems(items)
	return items, nil
}

// ListStarred returns every item the server reported as starred.
func (s *BadgerStore) ListStarred(ctx context.Context) ([]models.CachedItem, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var items []models.CachedItem
	err = s.db.View(func(txn *badger.Txn) error {
		items, err = listByIndex(txn, []byte(starKeyPrefix))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list starred: %w", err)
	}
	sortItems(items)
	return items, nil
}

// Get returns one item or ErrNotFound.
func (s *BadgerStore) Get(ctx context.Context, id string) (models.CachedItem, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return models.CachedItem{}, err
	}
	defer release()

	var ci *models.CachedItem
	err = s.db.View(func(txn *badger.Txn) error {
		ci, err = getItem(txn, id)
		return err
	})
	if err != nil {
		return models.CachedItem{}, err
	}
	return *ci, nil
}

// Count returns the number of items in the mirror.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	var n int
	err = s.db.View(func(txn *badger.Txn) error {
		n = len(collectKeys(txn, []byte(itemKeyPrefix)))
		return nil
	})
	return n, err
}

// MarkDownloaded records that id has local content at localPath.
func (s *BadgerStore) MarkDownloaded(ctx context.Context, id, localPath string) error {
	release, err := s.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	return s.db.Update(func(txn *badger.Txn) error {
		ci, err := getItem(txn, id)
		if err != nil {
			return err
		}
		ci.Downloaded = true
		ci.LocalPath = localPath
		if err := putItem(txn, ci); err != nil {
			return err
		}
		return txn.Set(downloadKey(id), nil)
	})
}

// RemoveDownload clears the local content of id.
func (s *BadgerStore) RemoveDownload(ctx context.Context, id string) error {
	release, err := s.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	return s.db.Update(func(txn *badger.Txn) error {
		ci, err := getItem(txn, id)
		if err != nil {
			return err
		}
		ci.Downloaded = false
		ci.LocalPath = ""
		if err := putItem(txn, ci); err != nil {
			return err
		}
		return txn.Delete(downloadKey(id))
	})
}

// RunGC reclaims value log space until nothing more can be rewritten.
func (s *BadgerStore) RunGC() error {
	release, err := s.acquire(context.Background())
	if err != nil {
		return err
	}
	defer release()

	for {
		err := s.db.RunValueLogGC(defaultGCRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the database. Further calls return ErrClosed.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
