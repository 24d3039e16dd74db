// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"fmt"

	"github.com/AleutianAI/editcore/services/editcore/operation"
	"github.com/AleutianAI/editcore/services/editcore/patch"
)

// ParseDiff converts a multi-file unified diff into operations.
//
// # Description
//
// Each file section becomes one operation: a /dev/null source side is a
// Create whose content is the added lines, a /dev/null target side is a
// Delete, differing names are a Rename (followed by a Modify of the new
// path when the section also has hunks), and anything else is a Modify
// carrying the section's hunks.
//
// # Outputs
//
//   - []operation.Operation: Operations in file order.
//   - error: Non-nil if the diff cannot be parsed.
func (in *Ingestor) ParseDiff(raw string) ([]operation.Operation, error) {
	files, err := patch.ParseFiles(raw)
	if err != nil {
		return nil, err
	}

	var ops []operation.Operation
	for _, f := range files {
		switch {
		case f.IsCreate():
			ops = append(ops, operation.Operation{
				Kind:        operation.KindCreate,
				Path:        f.NewPath,
				Source:      operation.FullContent(patch.Apply("", f.Hunks)),
				Description: "create " + f.NewPath,
			})
		case f.IsDelete():
			ops = append(ops, operation.Operation{
				Kind:        operation.KindDelete,
				Path:        f.OldPath,
				Description: "delete " + f.OldPath,
			})
		case f.IsRename():
			ops = append(ops, operation.Operation{
				Kind:        operation.KindRename,
				Path:        f.OldPath,
				NewPath:     f.NewPath,
				Description: fmt.Sprintf("rename %s to %s", f.OldPath, f.NewPath),
			})
			if len(f.Hunks) > 0 {
				ops = append(ops, modifyOp(f.NewPath, f.Hunks))
			}
		default:
			ops = append(ops, modifyOp(f.NewPath, f.Hunks))
		}
	}

	in.logger.Debug("parsed diff operations", "files", len(files), "operations", len(ops))
	return ops, nil
}

func modifyOp(path string, hunks []patch.Hunk) operation.Operation {
	added, removed := patch.Stats(hunks)
	return operation.Operation{
		Kind:        operation.KindModify,
		Path:        path,
		Source:      operation.Patch(hunks),
		Description: fmt.Sprintf("modify %s (+%d -%d)", path, added, removed),
	}
}
