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
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/editcore/services/editcore/operation"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidState indicates a call that is not allowed in the current
	// transaction state. ErrTransactionActive and ErrTransactionClosed wrap it.
	ErrInvalidState = errors.New("invalid transaction state")

	// ErrTransactionActive indicates Begin (or Recover) was called while a
	// transaction is open.
	ErrTransactionActive = fmt.Errorf("%w: a transaction is already active", ErrInvalidState)

	// ErrTransactionClosed indicates a call on a transaction that was
	// already committed or aborted.
	ErrTransactionClosed = fmt.Errorf("%w: transaction is closed", ErrInvalidState)

	// ErrJournalDisabled indicates Recover was called without a journal.
	ErrJournalDisabled = errors.New("journal is not configured")

	// ErrManagerClosed indicates a call on a closed Manager.
	ErrManagerClosed = errors.New("transaction manager is closed")

	// ErrNoStorage indicates NewManager was called without storage.
	ErrNoStorage = errors.New("storage is required")
)

// IsStateError reports whether err is a transaction state error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// RestoreOutcome is the rollback result for one path.
type RestoreOutcome struct {
	// Path is the restored path.
	Path string

	// Restored is true if the path is back in its pre-transaction state.
	Restored bool

	// Err is the restore failure, nil when Restored.
	Err error
}

// CommitError reports a failed commit.
//
// # Description
//
// Index and Path identify the operation that failed. Restores lists one
// outcome per distinct path touched by operations that ran before it (and
// by the failing operation itself if it had already written), in the order
// rollback visited them. The transaction is closed either way.
type CommitError struct {
	// TxID is the transaction identifier.
	TxID string

	// Index is the 1-based position of the failing operation. Zero means the
	// commit failed before any operation ran.
	Index int

	// Path is the failing operation's path.
	Path string

	// Kind is the failing operation's kind.
	Kind operation.Kind

	// Err is the underlying failure.
	Err error

	// Restores are the per-path rollback outcomes.
	Restores []RestoreOutcome
}

// Error implements the error interface.
func (e *CommitError) Error() string {
	var b strings.Builder
	if e.Index > 0 {
		fmt.Fprintf(&b, "commit %s failed at operation %d (%s %s): %v", e.TxID, e.Index, e.Kind, e.Path, e.Err)
	} else {
		fmt.Fprintf(&b, "commit %s failed: %v", e.TxID, e.Err)
	}

	failed := e.FailedRestores()
	switch {
	case len(e.Restores) == 0:
	case len(failed) == 0:
		fmt.Fprintf(&b, "; rolled back %d path(s)", len(e.Restores))
	default:
		paths := make([]string, len(failed))
		for i, r := range failed {
			paths[i] = r.Path
		}
		fmt.Fprintf(&b, "; rollback incomplete, %d of %d path(s) not restored: %s",
			len(failed), len(e.Restores), strings.Join(paths, ", "))
	}
	return b.String()
}

// Unwrap returns the underlying failure.
func (e *CommitError) Unwrap() error {
	return e.Err
}

// RollbackComplete reports whether every touched path was restored.
func (e *CommitError) RollbackComplete() bool {
	return len(e.FailedRestores()) == 0
}

// FailedRestores returns the outcomes that did not restore.
func (e *CommitError) FailedRestores() []RestoreOutcome {
	var out []RestoreOutcome
	for _, r := range e.Restores {
		if !r.Restored {
			out = append(out, r)
		}
	}
	return out
}
