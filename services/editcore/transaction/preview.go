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

	"github.com/AleutianAI/editcore/services/editcore/operation"
	"github.com/AleutianAI/editcore/services/editcore/patch"
	"github.com/AleutianAI/editcore/services/editcore/storage"
)

// Change is the previewed effect of one queued operation.
type Change struct {
	// Index is the 1-based position of the operation.
	Index int

	// Op is the operation with normalized paths.
	Op operation.Operation

	// Diff is the unified diff of the operation, empty for a pure rename.
	Diff string

	// Added and Removed count the diff's changed lines.
	Added   int
	Removed int

	// Err is set when the operation would fail at commit.
	Err error
}

// fileState is a path's simulated content during preview.
type fileState struct {
	content string
	exists  bool
}

// Preview computes what Commit would do without writing.
//
// # Description
//
// Operations are simulated in order over an overlay of storage, so a later
// operation sees the effect of earlier ones on the same path. An operation
// that would fail is reported in Change.Err and leaves the overlay
// unchanged; the remaining operations are still previewed.
//
// # Outputs
//
//   - []Change: One entry per queued operation.
//   - error: ErrTransactionClosed.
func (tx *Transaction) Preview(ctx context.Context) ([]Change, error) {
	m := tx.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.status != StatusOpen {
		return nil, ErrTransactionClosed
	}

	overlay := make(map[string]fileState)
	lookup := func(path string) (fileState, error) {
		if st, ok := overlay[path]; ok {
			return st, nil
		}
		content, err := m.storage.Read(path)
		switch {
		case err == nil:
			return fileState{content: content, exists: true}, nil
		case storage.IsNotFound(err):
			return fileState{}, nil
		default:
			return fileState{}, err
		}
	}

	changes := make([]Change, 0, len(tx.ops))
	for i, op := range tx.ops {
		c := Change{Index: i + 1, Op: op}
		if err := previewOperation(op, lookup, overlay, &c); err != nil {
			c.Err = err
		}
		changes = append(changes, c)
	}

	m.logger.DebugContext(ctx, "transaction previewed", "tx_id", tx.ID, "operations", len(changes))
	return changes, nil
}

func previewOperation(op operation.Operation, lookup func(string) (fileState, error), overlay map[string]fileState, c *Change) error {
	cur, err := lookup(op.Path)
	if err != nil {
		return err
	}

	oldName, newName := op.Path, op.Path
	var next string
	switch op.Kind {
	case operation.KindCreate:
		if next, err = op.Source.Resolve(""); err != nil {
			return err
		}
		if !cur.exists {
			oldName = patch.DevNull
		}
		overlay[op.Path] = fileState{content: next, exists: true}

	case operation.KindModify:
		if !cur.exists {
			if _, full := op.Source.Content(); !full {
				return fmt.Errorf("%w: %s", storage.ErrNotFound, op.Path)
			}
			oldName = patch.DevNull
		}
		if next, err = op.Source.Resolve(cur.content); err != nil {
			return err
		}
		overlay[op.Path] = fileState{content: next, exists: true}

	case operation.KindDelete:
		if !cur.exists {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, op.Path)
		}
		newName = patch.DevNull
		overlay[op.Path] = fileState{}

	case operation.KindRename:
		if !cur.exists {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, op.Path)
		}
		overlay[op.Path] = fileState{}
		overlay[op.NewPath] = cur
		return nil
	}

	hunks := patch.DiffHunks(cur.content, next)
	c.Added, c.Removed = patch.Stats(hunks)
	if len(hunks) == 0 {
		return nil
	}
	c.Diff, err = patch.Render(oldName, newName, hunks)
	return err
}
