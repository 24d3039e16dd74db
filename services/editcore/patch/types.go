// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch parses and applies the restricted unified-diff format used by
// AI-proposed edits.
//
// # Description
//
// Parse turns patch text into an ordered list of hunks and never fails:
// malformed hunk headers are skipped and stray prose is ignored. Apply walks
// the original content with a cursor and splices each hunk in. Line numbers
// are 1-based and refer to the original document.
//
// Overlapping or out-of-order hunks are not validated. The cursor never moves
// backwards, so the later hunk wins.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package patch

import (
	"fmt"
	"strings"
)

// LineType categorizes hunk body lines by their leading marker.
type LineType string

const (
	// LineContext is an unchanged line copied through from the original.
	LineContext LineType = " "

	// LineAdded is an inserted line.
	LineAdded LineType = "+"

	// LineRemoved is a deleted line.
	LineRemoved LineType = "-"
)

// Line is one hunk body line with its marker stripped.
type Line struct {
	Type    LineType
	Content string
}

// String returns the line with its marker.
func (l Line) String() string {
	return string(l.Type) + l.Content
}

// Hunk is one change block with old/new line ranges.
type Hunk struct {
	// OldStart is the 1-based first line in the original document.
	OldStart int

	// OldCount is the number of original lines the hunk covers.
	OldCount int

	// NewStart is the 1-based first line in the new document.
	NewStart int

	// NewCount is the number of lines the hunk produces.
	NewCount int

	// Lines is the hunk body in order.
	Lines []Line
}

// Header returns the unified diff header for this hunk.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
}

// Added returns the content of inserted lines in order.
func (h Hunk) Added() []string {
	return h.collect(LineAdded)
}

// Removed returns the content of deleted lines in order.
func (h Hunk) Removed() []string {
	return h.collect(LineRemoved)
}

func (h Hunk) collect(t LineType) []string {
	var out []string
	for _, l := range h.Lines {
		if l.Type == t {
			out = append(out, l.Content)
		}
	}
	return out
}

// String renders the hunk as header plus body.
func (h Hunk) String() string {
	var sb strings.Builder
	sb.WriteString(h.Header())
	sb.WriteByte('\n')
	for _, l := range h.Lines {
		sb.WriteString(l.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Stats returns total added and removed line counts across hunks.
func Stats(hunks []Hunk) (added, removed int) {
	for _, h := range hunks {
		added += len(h.Added())
		removed += len(h.Removed())
	}
	return added, removed
}
