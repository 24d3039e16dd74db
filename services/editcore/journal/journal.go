// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists transaction backups in BadgerDB before the first
// write of a commit, so an interrupted commit can be rolled back on restart.
//
// Lifecycle of an entry:
//
//	Record (before first write) → Complete (commit finished, either way)
//
// Anything still recorded when a process starts belongs to a commit that
// never finished and is replayed by the transaction manager's Recover.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/editcore/services/editcore/backup"
)

const keyPrefix = "tx/"

// ErrClosed is returned by calls on a closed journal.
var ErrClosed = errors.New("journal is closed")

// Config holds configuration for the journal database.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory keeps the journal in memory only. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every write.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns durable defaults rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Entry is the journaled state of one in-flight commit.
type Entry struct {
	// TxID identifies the transaction.
	TxID string `json:"tx_id"`

	// StartedAt is when the commit began.
	StartedAt time.Time `json:"started_at"`

	// Operations summarizes the queued operations, for logs.
	Operations []string `json:"operations,omitempty"`

	// Backups are the pre-transaction states to restore, in capture order.
	Backups []backup.Backup `json:"backups"`
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Journal is a BadgerDB-backed write-ahead log of transaction backups.
//
// Thread Safety: Safe for concurrent use.
type Journal struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) a journal.
//
// Description:
//
//	Opens a BadgerDB database at cfg.Path, or in memory if cfg.InMemory is
//	set. Creates the directory if it does not exist.
//
// Inputs:
//
//	cfg - Journal configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Journal - The opened journal. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot be opened.
func Open(cfg Config) (*Journal, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent journal")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "journal.badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger.With("component", "journal.Journal")}, nil
}

// Record stores entry, replacing any entry with the same TxID.
//
// Description:
//
//	Must be called before the first storage write of a commit. With
//	SyncWrites the entry is durable when Record returns.
func (j *Journal) Record(entry Entry) error {
	if entry.TxID == "" {
		return errors.New("entry has no transaction id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry %s: %w", entry.TxID, err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+entry.TxID), data)
	})
	if err != nil {
		return j.mapErr(fmt.Errorf("record journal entry %s: %w", entry.TxID, err))
	}

	j.logger.Debug("journal entry recorded",
		"tx_id", entry.TxID,
		"backups", len(entry.Backups))
	return nil
}

// Complete removes the entry for txID. Removing a missing entry is not an
// error.
func (j *Journal) Complete(txID string) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + txID))
	})
	if err != nil {
		return j.mapErr(fmt.Errorf("complete journal entry %s: %w", txID, err))
	}
	j.logger.Debug("journal entry completed", "tx_id", txID)
	return nil
}

// Get returns the entry for txID, if present.
func (j *Journal) Get(txID string) (Entry, bool, error) {
	var entry Entry
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + txID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, j.mapErr(fmt.Errorf("read journal entry %s: %w", txID, err))
	}
	return entry, true, nil
}

// Pending returns every recorded entry, oldest first.
//
// Description:
//
//	An entry that fails to decode is logged and skipped rather than
//	blocking recovery of the others.
func (j *Journal) Pending() ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var entry Entry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				j.logger.Warn("skipping undecodable journal entry",
					"key", string(item.Key()),
					"error", err)
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, j.mapErr(fmt.Errorf("list journal entries: %w", err))
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].StartedAt.Before(entries[b].StartedAt)
	})
	return entries, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) mapErr(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
