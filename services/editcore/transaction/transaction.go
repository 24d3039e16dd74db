// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/editcore/pkg/logging"
	"github.com/AleutianAI/editcore/services/editcore/backup"
	"github.com/AleutianAI/editcore/services/editcore/operation"
)

// Transaction is an ordered batch of operations owned by one caller.
//
// # Description
//
// Obtained from Manager.Begin. Operations run at Commit in the order they
// were added; two operations on the same path both run, the second against
// whatever the first left behind. After Commit or Abort the handle is
// closed and every method except the accessors returns ErrTransactionClosed.
type Transaction struct {
	// ID uniquely identifies the transaction.
	ID string

	// StartedAt is when Begin returned.
	StartedAt time.Time

	manager *Manager
	status  Status
	ops     []operation.Operation
	backups *backup.Store
}

// Result describes a successful commit.
type Result struct {
	// TxID is the committed transaction.
	TxID string

	// Applied is the number of operations applied.
	Applied int

	// Duration is the time from Begin to the end of Commit.
	Duration time.Duration

	// Paths are the distinct paths written, deleted or moved, in first-touch
	// order.
	Paths []string
}

// Add validates op and queues it.
//
// # Description
//
// The operation is re-validated, then its paths are normalized against the
// manager root. Modify and Delete snapshot their path, Rename snapshots both
// ends, and Create snapshots only when SnapshotOnCreate is set. Only the
// first reference to a path takes a snapshot. A rejected operation is not
// queued and no backup is taken for it, except that a Rename whose second
// snapshot fails keeps the first (restoring an untouched path is a no-op).
//
// # Inputs
//
//   - op: The operation to queue.
//
// # Outputs
//
//   - error: ErrTransactionClosed, *operation.MalformedError, or a snapshot
//     read failure.
func (tx *Transaction) Add(op operation.Operation) error {
	m := tx.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.status != StatusOpen {
		return ErrTransactionClosed
	}

	if err := op.Validate(); err != nil {
		return err
	}
	op, err := op.Normalize(m.config.Root)
	if err != nil {
		return err
	}

	var snap []string
	switch op.Kind {
	case operation.KindCreate:
		if m.config.SnapshotOnCreate {
			snap = []string{op.Path}
		}
	case operation.KindModify, operation.KindDelete:
		snap = []string{op.Path}
	case operation.KindRename:
		snap = []string{op.Path, op.NewPath}
	}
	for _, p := range snap {
		if _, _, err := tx.backups.Snapshot(p); err != nil {
			return fmt.Errorf("add %s: %w", op, err)
		}
	}

	tx.ops = append(tx.ops, op)
	m.logger.Debug("operation queued",
		"tx_id", tx.ID,
		"index", len(tx.ops),
		"op", op.String())
	return nil
}

// AddAll queues ops in order, stopping at the first rejected one.
//
// # Outputs
//
//   - int: Number of operations queued.
//   - error: The first rejection, annotated with its 1-based position.
func (tx *Transaction) AddAll(ops []operation.Operation) (int, error) {
	for i, op := range ops {
		if err := tx.Add(op); err != nil {
			return i, fmt.Errorf("operation %d: %w", i+1, err)
		}
	}
	return len(ops), nil
}

// Abort discards queued operations and backups without touching storage.
func (tx *Transaction) Abort(ctx context.Context) (err error) {
	m := tx.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.status != StatusOpen {
		return ErrTransactionClosed
	}

	ctx, span := m.tracer.StartAbort(ctx, tx)
	defer func() { m.tracer.EndSpan(span, err) }()

	m.tracer.RecordStateTransition(ctx, tx.ID, tx.status, StatusAborted, time.Since(tx.StartedAt))
	queued := len(tx.ops)
	tx.close(StatusAborted)
	recordAbort(ctx, queued)
	decActive(ctx)

	logging.WithTrace(ctx, m.logger).Info("transaction aborted",
		"tx_id", tx.ID,
		"discarded", queued)
	return nil
}

// close moves tx to a terminal state and releases it. Caller holds the
// manager lock.
func (tx *Transaction) close(final Status) {
	tx.status = final
	tx.ops = nil
	tx.backups.Reset()
	tx.manager.release(tx)
}

// Status returns the current state.
func (tx *Transaction) Status() Status {
	tx.manager.mu.Lock()
	defer tx.manager.mu.Unlock()
	return tx.status
}

// Len returns the number of queued operations.
func (tx *Transaction) Len() int {
	tx.manager.mu.Lock()
	defer tx.manager.mu.Unlock()
	return len(tx.ops)
}

// Operations returns a copy of the queued operations with normalized paths.
func (tx *Transaction) Operations() []operation.Operation {
	tx.manager.mu.Lock()
	defer tx.manager.mu.Unlock()

	out := make([]operation.Operation, len(tx.ops))
	copy(out, tx.ops)
	return out
}

// Backups returns the captured backups in capture order.
func (tx *Transaction) Backups() []backup.Backup {
	tx.manager.mu.Lock()
	defer tx.manager.mu.Unlock()
	return tx.backups.All()
}

// Backup returns the backup captured for path, if any.
func (tx *Transaction) Backup(path string) (backup.Backup, bool) {
	tx.manager.mu.Lock()
	defer tx.manager.mu.Unlock()
	return tx.backups.Get(path)
}
