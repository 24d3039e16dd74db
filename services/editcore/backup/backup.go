// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup captures and restores pre-transaction file state.
//
// # Description
//
// A Store snapshots each distinct path at most once. The first snapshot
// wins: later calls for the same path return the captured Backup without
// reading storage again, so the backup always reflects the state before the
// transaction touched the path.
//
// # Thread Safety
//
// Store is not safe for concurrent use. The transaction manager serializes
// access under its own lock.
package backup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/editcore/services/editcore/storage"
)

// Backup is the captured state of one path.
type Backup struct {
	// Path is the absolute path.
	Path string `json:"path"`

	// Existed is false when the path was absent at capture time.
	Existed bool `json:"existed"`

	// Content is the captured content. Empty when Existed is false.
	Content string `json:"content,omitempty"`

	// CapturedAt is when the snapshot was taken.
	CapturedAt time.Time `json:"captured_at"`
}

// Absent returns a backup recording that path did not exist.
func Absent(path string) Backup {
	return Backup{Path: path, CapturedAt: time.Now()}
}

// Store holds at most one Backup per path.
type Store struct {
	storage storage.Storage
	backups map[string]Backup
	order   []string
	logger  *slog.Logger
}

// NewStore creates an empty store reading through st.
//
// # Inputs
//
//   - st: Storage to read snapshots from and restore into.
//   - logger: Logger. Nil uses slog.Default().
func NewStore(st storage.Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		storage: st,
		backups: make(map[string]Backup),
		logger:  logger.With("component", "backup.Store"),
	}
}

// Snapshot captures path if it has not been captured yet.
//
// # Description
//
// Reads the current content. A not-found read records {Existed: false}.
// Any other read error is returned and nothing is recorded, since treating
// an unreadable file as absent would make Restore delete it.
//
// # Outputs
//
//   - Backup: The captured (or previously captured) backup.
//   - bool: True if this call took the snapshot.
//   - error: Non-nil on a read failure other than not-found.
func (s *Store) Snapshot(path string) (Backup, bool, error) {
	if b, ok := s.backups[path]; ok {
		return b, false, nil
	}

	content, err := s.storage.Read(path)
	var b Backup
	switch {
	case err == nil:
		b = Backup{Path: path, Existed: true, Content: content, CapturedAt: time.Now()}
	case storage.IsNotFound(err):
		b = Absent(path)
	default:
		return Backup{}, false, fmt.Errorf("snapshot %s: %w", path, err)
	}

	s.Put(b)
	s.logger.Debug("snapshot captured", "path", path, "existed", b.Existed, "bytes", len(b.Content))
	return b, true, nil
}

// Put records b unless its path already has a backup.
func (s *Store) Put(b Backup) {
	if _, ok := s.backups[b.Path]; ok {
		return
	}
	s.backups[b.Path] = b
	s.order = append(s.order, b.Path)
}

// Get returns the backup for path, if captured.
func (s *Store) Get(path string) (Backup, bool) {
	b, ok := s.backups[path]
	return b, ok
}

// All returns every backup in capture order.
func (s *Store) All() []Backup {
	out := make([]Backup, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, s.backups[p])
	}
	return out
}

// Len returns the number of captured paths.
func (s *Store) Len() int {
	return len(s.order)
}

// Reset drops every backup.
func (s *Store) Reset() {
	s.backups = make(map[string]Backup)
	s.order = nil
}

// Restore writes b back through the store's storage.
func (s *Store) Restore(b Backup) error {
	return Restore(s.storage, b)
}

// Restore puts a path back into its captured state.
//
// # Description
//
// If the path existed, its parent is ensured and the content written back.
// If it did not, the path is deleted; a path that is already gone counts as
// restored. Failures are returned once and not retried.
func Restore(st storage.Storage, b Backup) error {
	if !b.Existed {
		if err := st.Delete(b.Path); err != nil && !storage.IsNotFound(err) {
			return fmt.Errorf("restore %s: %w", b.Path, err)
		}
		return nil
	}

	if err := st.EnsureParent(b.Path); err != nil {
		return fmt.Errorf("restore %s: %w", b.Path, err)
	}
	if err := st.Write(b.Path, b.Content); err != nil {
		return fmt.Errorf("restore %s: %w", b.Path, err)
	}
	return nil
}
