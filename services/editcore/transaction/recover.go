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

	"github.com/AleutianAI/editcore/pkg/logging"
)

// RecoveryReport summarizes a Recover run.
type RecoveryReport struct {
	// Entries is the number of pending journal entries found.
	Entries int

	// Completed lists the transaction IDs fully rolled back and cleared.
	Completed []string

	// Restores are the outcomes of every restore attempted.
	Restores []RestoreOutcome

	// Failed is the number of paths that could not be restored.
	Failed int
}

// Recover rolls back transactions left pending in the journal.
//
// # Description
//
// Each pending entry belongs to a commit that was interrupted or whose
// rollback was incomplete. Its backups are restored in reverse capture
// order. An entry whose paths all restore is removed from the journal;
// otherwise it stays pending for a later attempt.
//
// # Inputs
//
//   - ctx: Context for tracing.
//
// # Outputs
//
//   - *RecoveryReport: What was restored.
//   - error: ErrJournalDisabled, ErrTransactionActive, or a journal read
//     failure.
func (m *Manager) Recover(ctx context.Context) (*RecoveryReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.journal == nil {
		return nil, ErrJournalDisabled
	}
	if m.active != nil {
		return nil, ErrTransactionActive
	}

	pending, err := m.journal.Pending()
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}

	logger := logging.WithTrace(ctx, m.logger)
	report := &RecoveryReport{Entries: len(pending)}

	for _, entry := range pending {
		ctx, span := m.tracer.StartRestore(ctx, entry.TxID, len(entry.Backups))
		logger.Info("recovering interrupted transaction",
			"tx_id", entry.TxID,
			"started_at", entry.StartedAt,
			"paths", len(entry.Backups))

		var failed error
		for i := len(entry.Backups) - 1; i >= 0; i-- {
			outcome := m.restore(ctx, logger, entry.Backups[i])
			report.Restores = append(report.Restores, outcome)
			if !outcome.Restored {
				report.Failed++
				failed = outcome.Err
			}
		}

		if failed == nil {
			if err := m.journal.Complete(entry.TxID); err != nil {
				failed = err
				logger.Warn("failed to clear journal entry", "tx_id", entry.TxID, "error", err)
			} else {
				report.Completed = append(report.Completed, entry.TxID)
			}
		}
		recordRecovered(ctx, failed == nil)
		m.tracer.EndSpan(span, failed)
	}

	return report, nil
}
