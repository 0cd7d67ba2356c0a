// Package journal keeps failed bulk batches in PebbleDB so that operators can
// inspect them after the fact.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/syntrixbase/graphsync/internal/document"
)

const keyPrefix = "failed/"

// Entry is one failed batch.
type Entry struct {
	ID      string            `json:"id"`
	Time    time.Time         `json:"time"`
	Mode    string            `json:"mode"`
	Reason  string            `json:"reason"`
	Error   string            `json:"error"`
	Payload string            `json:"payload,omitempty"`
	Actions []document.Action `json:"actions"`
}

// Options configures the journal.
type Options struct {
	// Path is the directory to store the journal.
	Path string

	// Logger for journal operations.
	Logger *slog.Logger
}

// Journal stores failed batches.
type Journal struct {
	db     *pebble.DB
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the journal at opts.Path.
func Open(opts Options) (*Journal, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "journal")

	if err := os.MkdirAll(opts.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := pebble.Open(opts.Path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	return &Journal{db: db, path: opts.Path, logger: logger}, nil
}

// Path returns the journal storage path.
func (j *Journal) Path() string {
	return j.path
}

// Record stores a failed batch. Missing id and time are filled in.
func (j *Journal) Record(e Entry) (Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return Entry{}, fmt.Errorf("journal is closed")
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	value, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode journal entry: %w", err)
	}
	if err := j.db.Set(entryKey(e), value, pebble.Sync); err != nil {
		return Entry{}, fmt.Errorf("failed to write journal entry: %w", err)
	}

	j.logger.Debug("Recorded failed batch", "id", e.ID, "actions", len(e.Actions), "reason", e.Reason)
	return e, nil
}

// entryKey orders entries by time, then id.
func entryKey(e Entry) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", keyPrefix, e.Time.UnixNano(), e.ID))
}

// List returns up to limit entries, oldest first. A limit <= 0 returns all.
func (j *Journal) List(limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, fmt.Errorf("journal is closed")
	}

	iter, err := j.db.NewIter(prefixOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var entries []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			j.logger.Warn("Skipping unreadable journal entry", "key", string(iter.Key()), "error", err)
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, iter.Error()
}

// Len returns the number of stored entries.
func (j *Journal) Len() (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, fmt.Errorf("journal is closed")
	}

	iter, err := j.db.NewIter(prefixOptions())
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, iter.Error()
}

// Purge deletes every entry and returns how many were removed.
func (j *Journal) Purge() (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, fmt.Errorf("journal is closed")
	}

	iter, err := j.db.NewIter(prefixOptions())
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	batch := j.db.NewBatch()
	defer batch.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := batch.Delete(iter.Key(), pebble.Sync); err != nil {
			return 0, fmt.Errorf("failed to batch delete: %w", err)
		}
		count++
	}

	if count > 0 {
		if err := batch.Commit(pebble.Sync); err != nil {
			return 0, fmt.Errorf("failed to commit deletes: %w", err)
		}
	}
	return count, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close pebble database: %w", err)
	}
	return nil
}

func prefixOptions() *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix[:len(keyPrefix)-1] + "0"), // '/'+1
	}
}
