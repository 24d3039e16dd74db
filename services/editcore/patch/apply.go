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

import "strings"

// Apply applies hunks to original content.
//
// # Description
//
// Walks the original lines with a cursor. For each hunk it copies unchanged
// lines up to the hunk start, then consumes the body: context lines copy the
// original line through, deleted lines skip it, inserted lines are emitted.
// If the body consumed fewer original lines than the header's old count, the
// remainder is skipped as replaced. After the last hunk every remaining
// original line is copied verbatim.
//
// A hunk with an old count of zero inserts after line OldStart, following
// standard unified-diff numbering.
//
// # Inputs
//
//   - original: The original document content.
//   - hunks: Hunks from Parse, in document order.
//
// # Outputs
//
//   - string: The patched content. A trailing newline on the original is
//     preserved.
func Apply(original string, hunks []Hunk) string {
	orig, trailing := splitLines(original)
	if original == "" {
		trailing = true
	}

	out := make([]string, 0, len(orig))
	cursor := 0

	for _, h := range hunks {
		target := h.OldStart - 1
		if h.OldCount == 0 {
			target = h.OldStart
		}
		for cursor < target && cursor < len(orig) {
			out = append(out, orig[cursor])
			cursor++
		}

		hunkStart := cursor
		for _, l := range h.Lines {
			switch l.Type {
			case LineAdded:
				out = append(out, l.Content)
			case LineRemoved:
				cursor++
			case LineContext:
				if cursor < len(orig) {
					out = append(out, orig[cursor])
				} else {
					out = append(out, l.Content)
				}
				cursor++
			}
		}

		if end := hunkStart + h.OldCount; cursor < end {
			cursor = end
		}
	}

	for cursor < len(orig) {
		out = append(out, orig[cursor])
		cursor++
	}

	if len(out) == 0 {
		return ""
	}
	result := strings.Join(out, "\n")
	if trailing {
		result += "\n"
	}
	return result
}

// splitLines splits content into lines and reports whether it ended with a
// newline. Empty content has no lines.
func splitLines(content string) ([]string, bool) {
	if content == "" {
		return nil, false
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	trailing := strings.HasSuffix(content, "\n")
	if trailing {
		content = content[:len(content)-1]
	}
	return strings.Split(content, "\n"), trailing
}
