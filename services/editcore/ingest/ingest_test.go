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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/editcore/services/editcore/operation"
)

func TestParseText_TwoRecords(t *testing.T) {
	raw := `Here are the changes you asked for.

FILE: src/util.go
ACTION: create
CONTENT:
package util

func Double(n int) int { return n * 2 }
END_CONTENT
FILE: src/main.go
ACTION: modify
`
	ops := New(nil).ParseText(raw)
	require.Len(t, ops, 2)

	first := ops[0]
	assert.Equal(t, operation.KindCreate, first.Kind)
	assert.Equal(t, "src/util.go", first.Path)
	content, ok := first.Source.Content()
	require.True(t, ok)
	assert.Equal(t, "package util\n\nfunc Double(n int) int { return n * 2 }\n", content)
	assert.Len(t, strings.Split(strings.TrimSuffix(content, "\n"), "\n"), 3)

	second := ops[1]
	assert.Equal(t, operation.KindModify, second.Kind)
	assert.Equal(t, "src/main.go", second.Path)
	assert.True(t, second.Source.IsZero())
	assert.ErrorIs(t, second.Validate(), operation.ErrMalformed)
}

func TestParseText(t *testing.T) {
	in := New(nil)

	t.Run("all markers", func(t *testing.T) {
		raw := "FILE: a.txt\n" +
			"ACTION: rename\n" +
			"NEW_PATH: b.txt\n" +
			"DESCRIPTION: move it\n" +
			"FILE: c.txt\n" +
			"ACTION: delete\n"
		ops := in.ParseText(raw)
		require.Len(t, ops, 2)
		assert.Equal(t, operation.KindRename, ops[0].Kind)
		assert.Equal(t, "b.txt", ops[0].NewPath)
		assert.Equal(t, "move it", ops[0].Description)
		assert.Equal(t, operation.KindDelete, ops[1].Kind)
	})

	t.Run("content is verbatim", func(t *testing.T) {
		raw := "FILE: notes.md\nACTION: create\nCONTENT:\n  indented\nFILE: not a marker here\n\nACTION: ignored\nEND_CONTENT:\n"
		ops := in.ParseText(raw)
		require.Len(t, ops, 1)
		content, _ := ops[0].Source.Content()
		assert.Equal(t, "  indented\nFILE: not a marker here\n\nACTION: ignored\n", content)
	})

	t.Run("inline first content line", func(t *testing.T) {
		ops := in.ParseText("FILE: x\nACTION: create\nCONTENT: one\ntwo\nEND_CONTENT\n")
		require.Len(t, ops, 1)
		content, _ := ops[0].Source.Content()
		assert.Equal(t, "one\ntwo\n", content)
	})

	t.Run("empty content block", func(t *testing.T) {
		ops := in.ParseText("FILE: empty.txt\nACTION: create\nCONTENT:\nEND_CONTENT\n")
		require.Len(t, ops, 1)
		content, ok := ops[0].Source.Content()
		assert.True(t, ok)
		assert.Equal(t, "", content)
	})

	t.Run("unterminated block closes at end", func(t *testing.T) {
		ops := in.ParseText("FILE: x\nACTION: create\nCONTENT:\nhalf")
		require.Len(t, ops, 1)
		content, _ := ops[0].Source.Content()
		assert.Equal(t, "half\n", content)
	})

	t.Run("patch block", func(t *testing.T) {
		raw := "FILE: b.txt\nACTION: modify\nPATCH:\n@@ -2,1 +2,1 @@\n-two\n+TWO\nEND_PATCH\n"
		ops := in.ParseText(raw)
		require.Len(t, ops, 1)
		assert.Equal(t, operation.SourcePatch, ops[0].Source.Kind())
		out, err := ops[0].Source.Resolve("one\ntwo\nthree\n")
		require.NoError(t, err)
		assert.Equal(t, "one\nTWO\nthree\n", out)
	})

	t.Run("crlf and case", func(t *testing.T) {
		ops := in.ParseText("file: a.txt\r\naction: Delete\r\n")
		require.Len(t, ops, 1)
		assert.Equal(t, operation.KindDelete, ops[0].Kind)
		assert.Equal(t, "a.txt", ops[0].Path)
	})

	t.Run("dropped records", func(t *testing.T) {
		raw := "ACTION: create\n" + // before any FILE:
			"FILE: a\nACTION: explode\n" + // unknown action
			"FILE:\nACTION: delete\n" + // no path
			"FILE: b\n" + // no action
			"FILE: c\nACTION: remove\n"
		ops := in.ParseText(raw)
		require.Len(t, ops, 1)
		assert.Equal(t, "c", ops[0].Path)
		assert.Equal(t, operation.KindDelete, ops[0].Kind)
	})

	t.Run("prose only", func(t *testing.T) {
		assert.Empty(t, in.ParseText("I could not find anything to change."))
	})
}

func TestParseStructured(t *testing.T) {
	in := New(nil)

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, ops []operation.Operation)
	}{
		{
			name: "json envelope",
			raw: `{"operations": [
				{"path": "a.txt", "action": "create", "content": "hi\n"},
				{"file": "b.txt", "kind": "modify", "patch": "@@ -1,1 +1,1 @@\n-b\n+B\n"},
				{"path": "c.txt", "type": "rename", "new_path": "d.txt", "description": "move"}
			]}`,
			check: func(t *testing.T, ops []operation.Operation) {
				require.Len(t, ops, 3)
				content, ok := ops[0].Source.Content()
				assert.True(t, ok)
				assert.Equal(t, "hi\n", content)
				assert.Equal(t, "b.txt", ops[1].Path)
				assert.Equal(t, operation.SourcePatch, ops[1].Source.Kind())
				assert.Equal(t, "d.txt", ops[2].NewPath)
				assert.Equal(t, "move", ops[2].Description)
			},
		},
		{
			name: "json list",
			raw:  `[{"path": "a", "action": "delete"}, {"path": "b", "action": "edit", "content": ""}]`,
			check: func(t *testing.T, ops []operation.Operation) {
				require.Len(t, ops, 2)
				assert.Equal(t, operation.KindModify, ops[1].Kind)
				content, ok := ops[1].Source.Content()
				assert.True(t, ok, "explicit empty content is a content source")
				assert.Equal(t, "", content)
			},
		},
		{
			name: "yaml envelope",
			raw: `operations:
  - path: a.txt
    action: create
    content: |
      line one
      line two
  - path: b.txt
    action: move
    to: c.txt
`,
			check: func(t *testing.T, ops []operation.Operation) {
				require.Len(t, ops, 2)
				content, _ := ops[0].Source.Content()
				assert.Equal(t, "line one\nline two\n", content)
				assert.Equal(t, operation.KindRename, ops[1].Kind)
				assert.Equal(t, "c.txt", ops[1].NewPath)
			},
		},
		{
			name: "yaml list",
			raw:  "- path: a\n  action: delete\n- path: b\n  action: modify\n",
			check: func(t *testing.T, ops []operation.Operation) {
				require.Len(t, ops, 2)
				assert.True(t, ops[1].Source.IsZero())
			},
		},
		{
			name: "invalid records skipped",
			raw:  `[{"action": "create"}, {"path": "a"}, {"path": "b", "action": "frobnicate"}, {"path": "c", "action": "delete"}]`,
			check: func(t *testing.T, ops []operation.Operation) {
				require.Len(t, ops, 1)
				assert.Equal(t, "c", ops[0].Path)
			},
		},
		{
			name: "empty",
			raw:  "   ",
			check: func(t *testing.T, ops []operation.Operation) {
				assert.Empty(t, ops)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := in.ParseStructured(tt.raw)
			require.NoError(t, err)
			tt.check(t, ops)
		})
	}
}

func TestParseStructured_Errors(t *testing.T) {
	in := New(nil)

	for _, raw := range []string{
		"operations: [unterminated",
		"just a scalar",
		`{"operations": "not a list"}`,
	} {
		_, err := in.ParseStructured(raw)
		assert.True(t, errors.Is(err, ErrUndecodable), "input %q: %v", raw, err)
	}
}

func TestParseStructured_ContentLimit(t *testing.T) {
	big := strings.Repeat("x", MaxContentBytes+1)
	raw := `[{"path": "big", "action": "create", "content": "` + big + `"}, {"path": "ok", "action": "delete"}]`

	ops, err := New(nil).ParseStructured(raw)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "ok", ops[0].Path)
}

func TestParseDiff(t *testing.T) {
	raw := `diff --git a/foo.txt b/foo.txt
index 1111111..2222222 100644
--- a/foo.txt
+++ b/foo.txt
@@ -1,2 +1,2 @@
 one
-two
+TWO
diff --git a/new.txt b/new.txt
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+hello
+world
diff --git a/old.txt b/old.txt
deleted file mode 100644
index 4444444..0000000
--- a/old.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-bye
`
	ops, err := New(nil).ParseDiff(raw)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Equal(t, operation.KindModify, ops[0].Kind)
	assert.Equal(t, "foo.txt", ops[0].Path)
	out, err := ops[0].Source.Resolve("one\ntwo\n")
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\n", out)

	assert.Equal(t, operation.KindCreate, ops[1].Kind)
	content, _ := ops[1].Source.Content()
	assert.Equal(t, "hello\nworld\n", content)

	assert.Equal(t, operation.KindDelete, ops[2].Kind)
	assert.Equal(t, "old.txt", ops[2].Path)
}

func TestDetect(t *testing.T) {
	tests := map[string]Format{
		`{"operations": []}`:       FormatStructured,
		"  [ ]":                    FormatStructured,
		"operations:\n  - path: a": FormatStructured,
		"- path: a":                FormatStructured,
		"diff --git a/x b/x\n":     FormatDiff,
		"--- a/x\n+++ b/x\n":       FormatDiff,
		"FILE: a\nACTION: delete":  FormatText,
		"Sure! Here you go.":       FormatText,
	}
	for raw, want := range tests {
		assert.Equal(t, want, Detect(raw), raw)
	}
}

func TestParse_Auto(t *testing.T) {
	in := New(nil)

	ops, err := in.Parse(`[{"path": "a", "action": "delete"}]`, FormatAuto)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	ops, err = in.Parse("FILE: a\nACTION: delete\n", "")
	require.NoError(t, err)
	require.Len(t, ops, 1)

	// Forced text format ignores structured input.
	ops, err = in.Parse(`[{"path": "a", "action": "delete"}]`, FormatText)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestParse_AutoFallsBackToText(t *testing.T) {
	in := New(nil)
	record := "FILE: a.txt\nACTION: create\nCONTENT:\nhi\nEND_CONTENT\n"

	for _, lead := range []string{
		"- Here are the edits you asked for:\n",
		"{Note} the second file is unchanged.\n",
	} {
		t.Run(strings.TrimSpace(lead), func(t *testing.T) {
			ops, err := in.Parse(lead+record, FormatAuto)
			require.NoError(t, err)
			require.Len(t, ops, 1)
			assert.Equal(t, operation.KindCreate, ops[0].Kind)
			assert.Equal(t, "a.txt", ops[0].Path)
			content, ok := ops[0].Source.Content()
			require.True(t, ok)
			assert.Equal(t, "hi\n", content)
		})
	}

	t.Run("explicit structured format still fails", func(t *testing.T) {
		_, err := in.Parse("- Here are the edits:\n"+record, FormatStructured)
		assert.True(t, errors.Is(err, ErrUndecodable), "%v", err)
	})
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatAuto, "JSON": FormatStructured, "yaml": FormatStructured, "text": FormatText, "diff": FormatDiff} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}
