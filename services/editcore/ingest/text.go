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
	"strings"

	"github.com/AleutianAI/editcore/services/editcore/operation"
)

// Textual protocol markers.
const (
	markerFile        = "FILE:"
	markerAction      = "ACTION:"
	markerNewPath     = "NEW_PATH:"
	markerDescription = "DESCRIPTION:"
	markerContent     = "CONTENT:"
	markerEndContent  = "END_CONTENT"
	markerPatch       = "PATCH:"
	markerEndPatch    = "END_PATCH"
)

// textRecord accumulates one FILE: record.
type textRecord struct {
	record
	content    []string
	hasContent bool
	patch      []string
}

// ParseText parses the line-oriented textual protocol.
//
// # Description
//
// A record starts at a "FILE: <path>" line and ends at the next FILE: line
// or the end of input. Within a record:
//
//	ACTION: create|modify|delete|rename
//	NEW_PATH: <path>
//	DESCRIPTION: <text>
//	CONTENT:
//	<lines taken verbatim>
//	END_CONTENT
//	PATCH:
//	<unified diff hunks>
//	END_PATCH
//
// END_CONTENT and END_PATCH may carry a trailing colon. Text after CONTENT:
// on the same line is the first content line. Every content line ends with a
// newline in the result. A block left open at the end of input is closed
// there. Lines outside blocks that match no marker are ignored, and records
// with no path or an unknown action are dropped.
//
// # Outputs
//
//   - []operation.Operation: Operations in record order. Malformed input
//     yields fewer operations, never an error.
func (in *Ingestor) ParseText(raw string) []operation.Operation {
	var (
		ops     []operation.Operation
		current *textRecord
		block   *[]string
		endMark string
	)

	flush := func() {
		if current == nil {
			return
		}
		r := current.record
		if current.hasContent {
			content := joinBlock(current.content)
			r.Content = &content
		}
		if len(current.patch) > 0 {
			r.Patch = joinBlock(current.patch)
		}
		if op, ok := in.build(r); ok {
			ops = append(ops, op)
		}
		current = nil
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")

		if block != nil {
			if end := strings.TrimSpace(line); end == endMark || end == endMark+":" {
				block = nil
				continue
			}
			*block = append(*block, line)
			continue
		}

		trimmed := strings.TrimSpace(line)
		if value, ok := cutMarker(trimmed, markerFile); ok {
			flush()
			current = &textRecord{record: record{Path: value}}
			continue
		}
		if current == nil {
			continue
		}

		if value, ok := cutMarker(trimmed, markerAction); ok {
			current.Action = value
		} else if value, ok := cutMarker(trimmed, markerNewPath); ok {
			current.NewPath = value
		} else if value, ok := cutMarker(trimmed, markerDescription); ok {
			current.Description = value
		} else if value, ok := cutMarker(trimmed, markerContent); ok {
			current.hasContent = true
			current.content = nil
			if value != "" {
				current.content = append(current.content, value)
			}
			block, endMark = &current.content, markerEndContent
		} else if _, ok := cutMarker(trimmed, markerPatch); ok {
			current.patch = nil
			block, endMark = &current.patch, markerEndPatch
		}
	}
	flush()

	in.logger.Debug("parsed textual operations", "operations", len(ops))
	return ops
}

// cutMarker returns the trimmed text after marker if line starts with it.
// Markers are matched case-insensitively.
func cutMarker(line, marker string) (string, bool) {
	if len(line) < len(marker) || !strings.EqualFold(line[:len(marker)], marker) {
		return "", false
	}
	return strings.TrimSpace(line[len(marker):]), true
}

// joinBlock joins lines into newline-terminated content.
func joinBlock(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
