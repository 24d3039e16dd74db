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
	"regexp"
	"strconv"
	"strings"
)

// headerPattern matches "@@ -O,o +N,n @@" with optional counts and an
// optional trailing section heading.
var headerPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse parses patch text into an ordered list of hunks.
//
// # Description
//
// Lines are classified by their leading marker once inside a hunk body:
// "+" inserted, "-" deleted, " " context. Any other line ends the current
// body and is ignored, as are all lines outside a body. A line starting with
// "@@" that is not a well-formed header is skipped and closes the current
// body, so its following lines are ignored too. A "---" line directly
// followed by "+++" is a file header and ends the body once the header's
// old and new counts are used up; before that the pair is a deletion and an
// insertion.
//
// An empty line inside a body is read as an empty context line while the
// header still expects more original lines; this tolerates generators that
// strip the single space from blank context lines.
//
// # Inputs
//
//   - text: Patch text. May contain prose, file headers, or nothing at all.
//
// # Outputs
//
//   - []Hunk: Parsed hunks in input order. Never nil-panics; empty on no hunks.
func Parse(text string) []Hunk {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var hunks []Hunk
	var current *Hunk
	oldSeen, newSeen := 0, 0

	flush := func() {
		if current != nil {
			hunks = append(hunks, *current)
			current = nil
		}
	}

	for i, line := range lines {
		if strings.HasPrefix(line, "@@") {
			flush()
			if h, ok := parseHeader(line); ok {
				current = &h
				oldSeen, newSeen = 0, 0
			}
			continue
		}

		if current == nil {
			continue
		}

		if oldSeen >= current.OldCount && newSeen >= current.NewCount && isFileHeader(lines, i) {
			flush()
			continue
		}

		switch {
		case line == "":
			if oldSeen < current.OldCount {
				current.Lines = append(current.Lines, Line{Type: LineContext})
				oldSeen++
				newSeen++
				continue
			}
			flush()
		case line[0] == '+':
			current.Lines = append(current.Lines, Line{Type: LineAdded, Content: line[1:]})
			newSeen++
		case line[0] == '-':
			current.Lines = append(current.Lines, Line{Type: LineRemoved, Content: line[1:]})
			oldSeen++
		case line[0] == ' ':
			current.Lines = append(current.Lines, Line{Type: LineContext, Content: line[1:]})
			oldSeen++
			newSeen++
		case line[0] == '\\':
			// "\ No newline at end of file"
		default:
			flush()
		}
	}
	flush()

	return hunks
}

// parseHeader parses a hunk header. Omitted counts default to 1.
func parseHeader(line string) (Hunk, bool) {
	m := headerPattern.FindStringSubmatch(line)
	if m == nil {
		return Hunk{}, false
	}

	h := Hunk{
		OldStart: atoi(m[1]),
		OldCount: 1,
		NewStart: atoi(m[3]),
		NewCount: 1,
	}
	if m[2] != "" {
		h.OldCount = atoi(m[2])
	}
	if m[4] != "" {
		h.NewCount = atoi(m[4])
	}
	return h, true
}

func isFileHeader(lines []string, i int) bool {
	return strings.HasPrefix(lines[i], "--- ") &&
		i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ")
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
