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
	"log/slog"
	"time"

	"github.com/AleutianAI/editcore/pkg/logging"
	"github.com/AleutianAI/editcore/services/editcore/backup"
	"github.com/AleutianAI/editcore/services/editcore/document"
	"github.com/AleutianAI/editcore/services/editcore/journal"
	"github.com/AleutianAI/editcore/services/editcore/operation"
	"github.com/AleutianAI/editcore/services/editcore/storage"
)

// Commit applies every queued operation in order.
//
// # Description
//
// With a journal, all backups are persisted first; a journal failure fails
// the commit before anything is written. Operations then run one by one.
// On the first failure, the paths touched so far (including any partial
// effect of the failing operation) are restored in reverse order, open
// documents are re-synced to the restored content, and a *CommitError
// describes the failing step and each restore outcome. The journal entry
// is removed unless some restore failed, in which case it is kept for
// Recover.
//
// The transaction is closed when Commit returns, whatever the outcome.
//
// # Inputs
//
//   - ctx: Context for tracing. Commit is not cancellable mid-way.
//
// # Outputs
//
//   - *Result: Applied operations and touched paths.
//   - error: ErrTransactionClosed, or *CommitError.
func (tx *Transaction) Commit(ctx context.Context) (result *Result, err error) {
	m := tx.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.status != StatusOpen {
		return nil, ErrTransactionClosed
	}

	ctx, span := m.tracer.StartCommit(ctx, tx)
	defer func() { m.tracer.EndCommit(span, result, err) }()

	logger := logging.WithTrace(ctx, m.logger)
	queued := len(tx.ops)

	defer func() {
		final := StatusCommitted
		if err != nil {
			final = StatusFailed
		}
		m.tracer.RecordStateTransition(ctx, tx.ID, StatusCommitting, final, 0)
		tx.close(final)
		recordCommit(ctx, time.Since(tx.StartedAt), queued, err == nil)
		decActive(ctx)
	}()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &CommitError{TxID: tx.ID, Err: fmt.Errorf("panic in Commit: %v", r)}
			logger.Error("panic in Commit", "tx_id", tx.ID, "panic", r)
		}
	}()

	m.tracer.RecordStateTransition(ctx, tx.ID, StatusOpen, StatusCommitting, time.Since(tx.StartedAt))
	tx.status = StatusCommitting

	if err := m.journalRecord(tx); err != nil {
		logger.Error("journal write failed, nothing applied", "tx_id", tx.ID, "error", err)
		return nil, &CommitError{TxID: tx.ID, Err: fmt.Errorf("journal: %w", err)}
	}

	logger.Info("committing transaction", "tx_id", tx.ID, "operations", queued)

	var touched []operation.Operation
	for i, op := range tx.ops {
		changed, opErr := m.applyOperation(ctx, i+1, op)
		if changed {
			touched = append(touched, op)
		}
		if opErr == nil {
			continue
		}

		restores := m.rollback(ctx, tx, touched)
		ce := &CommitError{
			TxID:     tx.ID,
			Index:    i + 1,
			Path:     op.Path,
			Kind:     op.Kind,
			Err:      opErr,
			Restores: restores,
		}
		if ce.RollbackComplete() {
			m.journalComplete(logger, tx.ID)
		} else {
			logger.Error("rollback incomplete, journal entry kept for recovery",
				"tx_id", tx.ID,
				"failed_paths", len(ce.FailedRestores()))
		}
		logger.Error("commit failed",
			"tx_id", tx.ID,
			"index", ce.Index,
			"op", op.String(),
			"error", opErr,
			"rolled_back", len(restores))
		return nil, ce
	}

	m.journalComplete(logger, tx.ID)

	result = &Result{
		TxID:     tx.ID,
		Applied:  queued,
		Duration: time.Since(tx.StartedAt),
		Paths:    touchedPaths(tx.ops),
	}
	logger.Info("transaction committed",
		"tx_id", tx.ID,
		"applied", result.Applied,
		"paths", len(result.Paths),
		"duration", result.Duration)
	return result, nil
}

// applyOperation applies one operation. changed reports whether storage or
// an open document was modified, even when err is non-nil.
func (m *Manager) applyOperation(ctx context.Context, index int, op operation.Operation) (changed bool, err error) {
	ctx, span := m.tracer.StartOperation(ctx, index, op)
	defer func() {
		m.tracer.EndSpan(span, err)
		recordOperation(ctx, op.Kind, err == nil)
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying %s: %v", op, r)
		}
	}()

	switch op.Kind {
	case operation.KindCreate:
		return m.applyCreate(ctx, op)
	case operation.KindModify:
		return m.applyModify(ctx, op)
	case operation.KindDelete:
		return m.applyDelete(op)
	case operation.KindRename:
		return m.applyRename(op)
	default:
		return false, fmt.Errorf("%w: unknown kind %q", operation.ErrMalformed, op.Kind)
	}
}

func (m *Manager) applyCreate(ctx context.Context, op operation.Operation) (bool, error) {
	content, err := op.Source.Resolve("")
	if err != nil {
		return false, err
	}
	return m.write(ctx, op.Path, content)
}

// applyModify computes the new content from the current one. A missing file
// with a full-content source is created.
func (m *Manager) applyModify(ctx context.Context, op operation.Operation) (bool, error) {
	old, err := m.storage.Read(op.Path)
	if err != nil {
		if _, full := op.Source.Content(); !full || !storage.IsNotFound(err) {
			return false, err
		}
		old = ""
	}

	content, err := op.Source.Resolve(old)
	if err != nil {
		return false, err
	}
	return m.write(ctx, op.Path, content)
}

func (m *Manager) applyDelete(op operation.Operation) (bool, error) {
	if err := m.storage.Delete(op.Path); err != nil {
		return false, err
	}
	return true, nil
}

// applyRename moves the file and rebinds an open document to the new path.
func (m *Manager) applyRename(op operation.Operation) (bool, error) {
	if err := m.storage.Move(op.Path, op.NewPath); err != nil {
		return false, err
	}
	if doc, ok := m.openDocument(op.Path); ok {
		if err := m.applier.Store().BindName(doc, op.NewPath); err != nil {
			return true, fmt.Errorf("rebinding open document: %w", err)
		}
	}
	return true, nil
}

// write stores content at path. An open document at path is updated first
// through the Applier, which validates and formats it as configured;
// otherwise the content is validated directly when ValidateEdits is set.
func (m *Manager) write(ctx context.Context, path, content string) (bool, error) {
	changed := false

	if doc, ok := m.openDocument(path); ok {
		opts := document.Options{Validate: m.config.ValidateEdits, Format: m.config.FormatEdits}
		res, err := m.applier.ApplyFullReplacement(ctx, doc, content, opts)
		if err != nil {
			return false, fmt.Errorf("updating open document: %w", err)
		}
		changed = true
		if res.Formatted {
			if content, err = document.Text(m.applier.Store(), doc); err != nil {
				return changed, err
			}
		}
	} else if err := m.validate(ctx, path, content); err != nil {
		return false, err
	}

	if err := m.storage.EnsureParent(path); err != nil {
		return changed, err
	}
	if err := m.storage.Write(path, content); err != nil {
		return changed, err
	}
	return true, nil
}

// validate runs the Validator when ValidateEdits is set. Only a
// *document.ValidationError fails the write; a validator malfunction is
// logged.
func (m *Manager) validate(ctx context.Context, path, content string) error {
	if !m.config.ValidateEdits || m.validator == nil {
		return nil
	}
	err := m.validator.Validate(ctx, path, content)
	if err == nil {
		return nil
	}
	if document.IsValidationError(err) {
		return err
	}
	logging.WithTrace(ctx, m.logger).Warn("validator failed, writing unvalidated",
		"path", path,
		"error", err)
	return nil
}

// rollback restores every path touched by ops, walking ops in reverse and
// each op's paths in reverse. Each distinct path is restored once.
func (m *Manager) rollback(ctx context.Context, tx *Transaction, ops []operation.Operation) (restores []RestoreOutcome) {
	seen := make(map[string]bool)
	var paths int
	for _, op := range ops {
		for _, p := range op.Paths() {
			if !seen[p] {
				seen[p] = true
				paths++
			}
		}
	}

	ctx, span := m.tracer.StartRestore(ctx, tx.ID, paths)
	defer func() {
		var err error
		for _, r := range restores {
			if !r.Restored {
				err = r.Err
				break
			}
		}
		m.tracer.EndSpan(span, err)
	}()

	logger := logging.WithTrace(ctx, m.logger)
	clear(seen)

	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if op.Kind == operation.KindRename {
			m.unbind(logger, op)
		}

		opPaths := op.Paths()
		for j := len(opPaths) - 1; j >= 0; j-- {
			p := opPaths[j]
			if seen[p] {
				continue
			}
			seen[p] = true

			b, ok := tx.backups.Get(p)
			if !ok {
				// Create without a snapshot: the expected prior state is absent.
				b = backup.Absent(p)
			}
			restores = append(restores, m.restore(ctx, logger, b))
		}
	}
	return restores
}

// restore puts one path back and re-syncs an open document to it.
func (m *Manager) restore(ctx context.Context, logger *slog.Logger, b backup.Backup) RestoreOutcome {
	if err := backup.Restore(m.storage, b); err != nil {
		recordRestore(ctx, false)
		logger.Error("restore failed", "path", b.Path, "error", err)
		return RestoreOutcome{Path: b.Path, Err: err}
	}
	recordRestore(ctx, true)
	logger.Debug("path restored", "path", b.Path, "existed", b.Existed)

	m.resync(logger, b)
	return RestoreOutcome{Path: b.Path, Restored: true}
}

// resync sets an open document at b.Path back to the restored content.
// It writes the store directly so the rollback does not enter the history.
func (m *Manager) resync(logger *slog.Logger, b backup.Backup) {
	if !b.Existed {
		return
	}
	doc, ok := m.openDocument(b.Path)
	if !ok {
		return
	}
	store := m.applier.Store()
	current, err := document.Text(store, doc)
	if err == nil && current == document.JoinLines(document.SplitText(b.Content)) {
		return
	}
	if err := store.SetLines(doc, 0, -1, document.SplitText(b.Content)); err != nil {
		logger.Warn("failed to re-sync open document", "path", b.Path, "error", err)
	}
}

// unbind points a document renamed by op back at its original path.
func (m *Manager) unbind(logger *slog.Logger, op operation.Operation) {
	doc, ok := m.openDocument(op.NewPath)
	if !ok {
		return
	}
	if err := m.applier.Store().BindName(doc, op.Path); err != nil {
		logger.Warn("failed to rebind open document", "path", op.Path, "error", err)
	}
}

// journalRecord persists the backups of tx, plus an absent backup for each
// Create target that was not snapshotted and does not exist yet. A Create
// over an existing unsnapshotted file is left out of the entry, so Recover
// never deletes a file the transaction did not bring into being.
func (m *Manager) journalRecord(tx *Transaction) error {
	if m.journal == nil {
		return nil
	}

	backups := tx.backups.All()
	seen := make(map[string]bool, len(backups))
	for _, b := range backups {
		seen[b.Path] = true
	}
	ops := make([]string, 0, len(tx.ops))
	for _, op := range tx.ops {
		ops = append(ops, op.String())
		if op.Kind != operation.KindCreate || seen[op.Path] {
			continue
		}
		seen[op.Path] = true
		_, err := m.storage.Read(op.Path)
		switch {
		case storage.IsNotFound(err):
			backups = append(backups, backup.Absent(op.Path))
		case err == nil:
			m.logger.Debug("create target exists without snapshot, not journaled", "tx_id", tx.ID, "path", op.Path)
		default:
			return fmt.Errorf("reading create target %s: %w", op.Path, err)
		}
	}

	return m.journal.Record(journal.Entry{
		TxID:       tx.ID,
		StartedAt:  tx.StartedAt,
		Operations: ops,
		Backups:    backups,
	})
}

func (m *Manager) journalComplete(logger *slog.Logger, txID string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Complete(txID); err != nil {
		logger.Warn("failed to clear journal entry", "tx_id", txID, "error", err)
	}
}

// touchedPaths returns the distinct paths of ops in first-touch order.
func touchedPaths(ops []operation.Operation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range ops {
		for _, p := range op.Paths() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}
