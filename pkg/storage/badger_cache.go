package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"tokenizerd/pkg/log"
	"tokenizerd/pkg/utils"
)

const (
	countKeyPrefix = "count:"    // Prefix for count entry keys in DB
	countsDBDir    = "counts_db" // Subdirectory name within stateDir for Badger DB files
)

// CountEntry is the JSON value stored per cached count.
type CountEntry struct {
	Count     int       `json:"count"`
	Scheme    string    `json:"scheme"`
	CreatedAt time.Time `json:"created_at"`
}

// BadgerCache is a persistent token-count cache backed by BadgerDB. Counts
// are derived data: losing an entry only costs a recomputation, so every
// write failure degrades to a miss instead of surfacing.
type BadgerCache struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count for O(1) EntryCount
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// NewBadgerCache opens (or creates) the persistent count cache under
// stateDir. Existing entries survive restarts; the cache always resumes.
func NewBadgerCache(stateDir string, logger *logrus.Entry) (*BadgerCache, error) {
	dbPath := filepath.Join(stateDir, countsDBDir)

	logger.Infof("Initializing count cache database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger). // Use custom logrus adapter
		WithNumVersionsToKeep(1)  // Counts never change for a key; keep latest only

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", dbPath, err)
	}

	cache := &BadgerCache{
		db:  db,
		log: logger,
	}

	count, err := cache.countKeys()
	if err != nil {
		logger.Warnf("Failed to count existing cache entries: %v", err)
	} else {
		cache.keyCount.Store(int64(count))
		if count > 0 {
			logger.Infof("Loaded existing count cache entries: %d", count)
		}
	}

	logger.Info("Count cache database initialized successfully.")
	return cache, nil
}

// countKeys performs a one-time full key scan (used only during initialization).
func (s *BadgerCache) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerCache) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Get retrieves the count stored under key. Read errors and a closed
// database degrade to a miss.
func (s *BadgerCache) Get(key string) (int, bool) {
	if s.db == nil || s.db.IsClosed() {
		return 0, false
	}

	var entry CountEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(countKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			s.log.WithField("key", key).Debugf("Count cache read error: %v", err)
		}
		s.misses.Add(1)
		return 0, false
	}

	s.hits.Add(1)
	return entry.Count, true
}

// Set stores the count under key. Write failures are logged and dropped; a
// cache must never fail the operation it backs.
func (s *BadgerCache) Set(key string, count int) {
	if s.db == nil || s.db.IsClosed() {
		return
	}

	// Keys arrive as "<scheme>:<text hash>"; the scheme is denormalized into
	// the entry for offline inspection of the store.
	scheme, _, _ := strings.Cut(key, ":")
	entry := CountEntry{
		Count:     count,
		Scheme:    scheme,
		CreatedAt: time.Now().UTC(),
	}
	val, err := json.Marshal(entry)
	if err != nil {
		s.log.WithField("key", key).Errorf("Failed to marshal count entry: %v", err)
		return
	}

	fullKey := []byte(countKeyPrefix + key)
	added := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(fullKey)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			added = true
		}
		e := badger.NewEntry(fullKey, val)
		return txn.SetEntry(e)
	})
	if err != nil {
		s.log.WithField("key", key).Errorf("DB Update error in count cache Set: %v", err)
		return
	}
	if added {
		s.keyCount.Add(1)
	}
}

// Stats returns hit and miss totals for this process.
func (s *BadgerCache) Stats() (hits, misses uint64) {
	return s.hits.Load(), s.misses.Load()
}

// EntryCount returns an approximate count of stored entries.
func (s *BadgerCache) EntryCount() int64 {
	return s.keyCount.Load()
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerCache) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute // Default interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			s.log.Debug("Running BadgerDB value log garbage collection...")
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				// Run GC if log is at least 50% reclaimable space
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}

			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Infof("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close cleanly closes the database. Safe to call more than once.
func (s *BadgerCache) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing count cache DB...")
		err := s.db.Close()
		if err != nil {
			s.log.Errorf("Error closing count cache DB: %v", err)
			return err
		}
		s.log.Info("Count cache DB closed.")
		return nil
	}
	s.log.Info("Count cache DB already closed or was not initialized.")
	return nil
}
