// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// DevNull is the conventional name for an absent side of a file diff.
const DevNull = "/dev/null"

// DefaultContext is the number of context lines around each change.
const DefaultContext = 3

// Diff computes unified diff text between two versions of a document.
//
// # Inputs
//
//   - oldName, newName: Names for the ---/+++ headers.
//   - oldContent, newContent: Document versions to compare.
//
// # Outputs
//
//   - string: Unified diff text, empty when the versions are equal.
func Diff(oldName, newName, oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        diffLines(oldContent),
		B:        diffLines(newContent),
		FromFile: oldName,
		ToFile:   newName,
		Context:  DefaultContext,
	})
	if err != nil {
		// The writer is a strings.Builder; this cannot fail in practice.
		return ""
	}
	return text
}

// DiffHunks computes the hunks that turn oldContent into newContent.
func DiffHunks(oldContent, newContent string) []Hunk {
	return Parse(Diff("a", "b", oldContent, newContent))
}

// diffLines splits content into newline-terminated lines for difflib.
func diffLines(content string) []string {
	lines, _ := splitLines(content)
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}

// Render prints hunks as a single-file unified diff.
//
// # Description
//
// Builds a go-diff FileDiff so the output matches what review tooling
// expects, including "/dev/null" sides for created or deleted files.
//
// # Inputs
//
//   - oldName: Original path, or DevNull for a created file.
//   - newName: New path, or DevNull for a deleted file.
//   - hunks: Hunks to render.
//
// # Outputs
//
//   - string: Rendered diff.
//   - error: Non-nil if printing fails.
func Render(oldName, newName string, hunks []Hunk) (string, error) {
	fd := &godiff.FileDiff{
		OrigName: oldName,
		NewName:  newName,
		Hunks:    make([]*godiff.Hunk, 0, len(hunks)),
	}

	for _, h := range hunks {
		var body strings.Builder
		for _, l := range h.Lines {
			body.WriteString(l.String())
			body.WriteByte('\n')
		}
		fd.Hunks = append(fd.Hunks, &godiff.Hunk{
			OrigStartLine: int32(h.OldStart),
			OrigLines:     int32(h.OldCount),
			NewStartLine:  int32(h.NewStart),
			NewLines:      int32(h.NewCount),
			Body:          []byte(body.String()),
		})
	}

	out, err := godiff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("printing diff for %s: %w", newName, err)
	}
	return string(out), nil
}

// FilePatch is one file's section of a multi-file unified diff.
type FilePatch struct {
	// OldPath is the original path with any "a/" prefix removed, or DevNull.
	OldPath string

	// NewPath is the new path with any "b/" prefix removed, or DevNull.
	NewPath string

	// Hunks are the file's hunks.
	Hunks []Hunk
}

// IsCreate reports whether the patch creates a new file.
func (p FilePatch) IsCreate() bool {
	return p.OldPath == DevNull
}

// IsDelete reports whether the patch deletes the file.
func (p FilePatch) IsDelete() bool {
	return p.NewPath == DevNull
}

// IsRename reports whether the patch moves the file.
func (p FilePatch) IsRename() bool {
	return !p.IsCreate() && !p.IsDelete() && p.OldPath != p.NewPath
}

// ParseFiles parses a strict multi-file unified diff with ---/+++ headers.
//
// # Description
//
// Unlike Parse this is not permissive: it is used to recognize git-style
// diffs in untrusted input, and callers fall back to other formats when it
// returns an error or no files.
func ParseFiles(text string) ([]FilePatch, error) {
	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("parsing multi-file diff: %w", err)
	}

	patches := make([]FilePatch, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		p := FilePatch{
			OldPath: stripPrefix(fd.OrigName, "a/"),
			NewPath: stripPrefix(fd.NewName, "b/"),
		}
		for _, h := range fd.Hunks {
			header := fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OrigStartLine, h.OrigLines, h.NewStartLine, h.NewLines)
			p.Hunks = append(p.Hunks, Parse(header+"\n"+string(h.Body))...)
		}
		patches = append(patches, p)
	}
	return patches, nil
}

func stripPrefix(name, prefix string) string {
	if name == DevNull {
		return name
	}
	return strings.TrimPrefix(name, prefix)
}
