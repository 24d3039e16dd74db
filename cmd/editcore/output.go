// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"io"
	"time"

	"github.com/AleutianAI/editcore/pkg/ux"
	"github.com/AleutianAI/editcore/services/editcore/operation"
	"github.com/AleutianAI/editcore/services/editcore/transaction"
)

func describe(e *engine, op operation.Operation) string {
	if op.Kind == operation.KindRename {
		return string(op.Kind) + " " + e.rel(op.Path) + " " + string(ux.IconArrow) + " " + e.rel(op.NewPath)
	}
	return string(op.Kind) + " " + e.rel(op.Path)
}

func printPreview(w io.Writer, e *engine, changes []transaction.Change) {
	p := ux.NewPrinter(w)
	for _, c := range changes {
		switch {
		case c.Err != nil:
			p.Warning("[%d] %s: would fail: %v", c.Index, describe(e, c.Op), c.Err)
		case c.Diff == "":
			p.Header("[%d] %s", c.Index, describe(e, c.Op))
		default:
			p.Header("[%d] %s (+%d -%d)", c.Index, describe(e, c.Op), c.Added, c.Removed)
			p.Diff(c.Diff)
		}
	}
}

func printResult(w io.Writer, e *engine, r *transaction.Result) {
	p := ux.NewPrinter(w)
	p.Success("committed %s: %d operation(s), %d path(s) in %s",
		r.TxID, r.Applied, len(r.Paths), r.Duration.Round(time.Microsecond))
	for _, path := range r.Paths {
		p.Muted("  %s", e.rel(path))
	}
}

func printRestores(p *ux.Printer, e *engine, outcomes []transaction.RestoreOutcome) {
	for _, o := range outcomes {
		if o.Restored {
			p.Line("  restored  %s", e.rel(o.Path))
		} else {
			p.Failure("  FAILED    %s: %v", e.rel(o.Path), o.Err)
		}
	}
}

func printCommitError(w io.Writer, e *engine, ce *transaction.CommitError) {
	p := ux.NewPrinter(w)
	if ce.Index > 0 {
		p.Failure("operation %d failed (%s %s): %v", ce.Index, ce.Kind, e.rel(ce.Path), ce.Err)
	} else {
		p.Failure("commit failed before any write: %v", ce.Err)
	}
	if len(ce.Restores) == 0 {
		return
	}
	p.Line("rollback:")
	printRestores(p, e, ce.Restores)
	if !ce.RollbackComplete() && e.journal != nil {
		p.Warning("rollback incomplete; run `editcore recover` once the cause is fixed")
	}
}

func printRecovery(w io.Writer, e *engine, r *transaction.RecoveryReport) {
	p := ux.NewPrinter(w)
	if r.Entries == 0 {
		p.Line("no pending transactions")
		return
	}
	p.Line("pending transactions: %d, recovered: %d, failed paths: %d",
		r.Entries, len(r.Completed), r.Failed)
	printRestores(p, e, r.Restores)
}
