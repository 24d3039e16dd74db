// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction applies ordered batches of file operations with
// best-effort rollback.
//
// # Description
//
// A Manager hands out at most one open Transaction at a time. Operations are
// validated and the paths they touch are snapshotted when added; all writes
// happen at Commit, in insertion order. The first failing operation stops
// the commit, and every path touched before it is restored from its backup
// in reverse order. Whatever the outcome, the Transaction is closed when
// Commit or Abort returns.
//
// With a journal configured, the backups are persisted before the first
// write so an interrupted commit can be rolled back by Recover.
//
// # Thread Safety
//
// Manager and Transaction are safe for concurrent use. Calls serialize on
// the Manager's lock.
package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/editcore/pkg/logging"
	"github.com/AleutianAI/editcore/services/editcore/backup"
	"github.com/AleutianAI/editcore/services/editcore/document"
	"github.com/AleutianAI/editcore/services/editcore/journal"
	"github.com/AleutianAI/editcore/services/editcore/storage"
)

// Status is the lifecycle state of a Transaction.
type Status string

const (
	// StatusOpen accepts operations.
	StatusOpen Status = "open"

	// StatusCommitting is set while Commit applies operations.
	StatusCommitting Status = "committing"

	// StatusCommitted means every operation applied.
	StatusCommitted Status = "committed"

	// StatusFailed means Commit stopped at a failing operation.
	StatusFailed Status = "failed"

	// StatusAborted means the transaction was discarded.
	StatusAborted Status = "aborted"
)

// Closed reports whether s is a terminal state.
func (s Status) Closed() bool {
	return s == StatusCommitted || s == StatusFailed || s == StatusAborted
}

// Config configures a Manager.
type Config struct {
	// Root is the workspace root. Relative operation paths resolve against
	// it and paths outside it are rejected. Empty resolves against the
	// working directory without containment.
	Root string

	// SnapshotOnCreate snapshots Create targets too, so a create that
	// overwrites an existing file can be rolled back to it. Without it, the
	// journal records only Create targets that do not exist yet, and
	// recovery leaves an overwritten file as it finds it.
	SnapshotOnCreate bool

	// SyncOpenDocuments pushes new content into documents open at the
	// written path through the Applier.
	SyncOpenDocuments bool

	// ValidateEdits validates new content before it is written. A
	// validation error fails the operation.
	ValidateEdits bool

	// FormatEdits formats synced open documents after writing.
	FormatEdits bool

	// RecoverOnInit runs Recover from NewManager when a journal is set.
	RecoverOnInit bool

	// TracingEnabled enables OpenTelemetry spans.
	TracingEnabled bool

	// MetricsEnabled enables OpenTelemetry metrics.
	MetricsEnabled bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SyncOpenDocuments: true,
		TracingEnabled:    true,
		MetricsEnabled:    true,
	}
}

// Deps are the collaborators of a Manager. Only Storage is required.
type Deps struct {
	// Storage performs all file I/O.
	Storage storage.Storage

	// Applier edits open documents. Nil disables document sync.
	Applier *document.Applier

	// Validator checks content of files that are not open. Nil skips it.
	Validator document.Validator

	// Journal persists backups before a commit writes. Nil disables it.
	Journal *journal.Journal

	// Logger is the base logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// Manager coordinates transactions over one storage.
type Manager struct {
	mu sync.Mutex

	config    Config
	storage   storage.Storage
	applier   *document.Applier
	validator document.Validator
	journal   *journal.Journal
	logger    *slog.Logger
	tracer    *Tracer

	active *Transaction
	closed bool
}

// NewManager creates a transaction manager.
//
// # Description
//
// Resolves Root to an absolute path and initializes metrics. When
// RecoverOnInit is set and a journal is configured, interrupted
// transactions are rolled back before the manager is returned; a recovery
// failure is logged and does not fail construction.
//
// # Inputs
//
//   - config: Manager configuration.
//   - deps: Collaborators. deps.Storage must not be nil.
//
// # Outputs
//
//   - *Manager: Ready-to-use manager.
//   - error: ErrNoStorage, or a root resolution failure.
func NewManager(config Config, deps Deps) (*Manager, error) {
	if deps.Storage == nil {
		return nil, ErrNoStorage
	}

	if config.Root != "" {
		root, err := filepath.Abs(config.Root)
		if err != nil {
			return nil, fmt.Errorf("resolving root %q: %w", config.Root, err)
		}
		config.Root = root
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transaction.Manager")

	SetMetricsEnabled(config.MetricsEnabled)
	if config.MetricsEnabled {
		if err := initMetrics(); err != nil {
			logger.Warn("failed to initialize metrics", "error", err)
		}
	}

	m := &Manager{
		config:    config,
		storage:   deps.Storage,
		applier:   deps.Applier,
		validator: deps.Validator,
		journal:   deps.Journal,
		logger:    logger,
		tracer:    NewTracer(logger, config.TracingEnabled),
	}

	if config.RecoverOnInit && m.journal != nil {
		report, err := m.Recover(context.Background())
		switch {
		case err != nil:
			logger.Warn("recovery on init failed", "error", err)
		case report.Entries > 0:
			logger.Info("recovered interrupted transactions",
				"entries", report.Entries,
				"failed_paths", report.Failed)
		}
	}

	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Begin opens a new transaction.
//
// # Description
//
// Only one transaction may be open at a time. The returned handle owns the
// transaction until Commit or Abort.
//
// # Inputs
//
//   - ctx: Context for tracing.
//
// # Outputs
//
//   - *Transaction: The open transaction.
//   - error: ErrTransactionActive if one is already open, ErrManagerClosed
//     after Close.
//
// # Example
//
//	tx, err := manager.Begin(ctx)
//	if err != nil {
//	    return err
//	}
//	if err := tx.Add(op); err != nil {
//	    _ = tx.Abort(ctx)
//	    return err
//	}
//	result, err := tx.Commit(ctx)
func (m *Manager) Begin(ctx context.Context) (tx *Transaction, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.StartBegin(ctx)
	defer func() { m.tracer.EndBegin(span, tx, err) }()

	logger := logging.WithTrace(ctx, m.logger)

	defer func() {
		if r := recover(); r != nil {
			tx = nil
			err = fmt.Errorf("panic in Begin: %v", r)
			logger.Error("panic in Begin", "panic", r)
		}
	}()

	defer func() {
		recordBegin(ctx, err == nil)
		if err == nil {
			incActive(ctx)
		}
	}()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.active != nil {
		return nil, ErrTransactionActive
	}

	tx = &Transaction{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		manager:   m,
		status:    StatusOpen,
		backups:   backup.NewStore(m.storage, m.logger),
	}
	m.active = tx

	logger.Info("transaction started", "tx_id", tx.ID)
	return tx, nil
}

// Active returns the open transaction, or nil.
func (m *Manager) Active() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// IsActive reports whether a transaction is open.
func (m *Manager) IsActive() bool {
	return m.Active() != nil
}

// JournalEnabled reports whether commits are journaled.
func (m *Manager) JournalEnabled() bool {
	return m.journal != nil
}

// Close aborts any open transaction and rejects further Begin calls.
// The journal is owned by the caller and stays open.
func (m *Manager) Close() error {
	m.mu.Lock()
	tx := m.active
	m.mu.Unlock()

	if tx != nil {
		m.logger.Warn("aborting open transaction on close", "tx_id", tx.ID)
		if err := tx.Abort(context.Background()); err != nil && !IsStateError(err) {
			return err
		}
	}

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// release clears tx as the active transaction. Caller holds m.mu.
func (m *Manager) release(tx *Transaction) {
	if m.active == tx {
		m.active = nil
	}
}

// openDocument returns the open document bound to path when document sync
// is enabled.
func (m *Manager) openDocument(path string) (document.Handle, bool) {
	if !m.config.SyncOpenDocuments || m.applier == nil {
		return 0, false
	}
	return m.applier.Store().Lookup(path)
}
