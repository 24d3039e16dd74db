// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package operation

import (
	"fmt"

	"github.com/AleutianAI/editcore/services/editcore/patch"
)

// SourceKind identifies which content source an operation carries.
type SourceKind int

const (
	// SourceNone means no content was supplied.
	SourceNone SourceKind = iota

	// SourceContent is a literal replacement of the whole file.
	SourceContent

	// SourcePatch is a list of hunks applied to the current content.
	SourcePatch

	// SourceTransform is a function from old content to new content.
	SourceTransform
)

// String returns the source kind name.
func (k SourceKind) String() string {
	switch k {
	case SourceContent:
		return "content"
	case SourcePatch:
		return "patch"
	case SourceTransform:
		return "transform"
	default:
		return "none"
	}
}

// TransformFunc computes new content from old content. It must not have
// side effects; Preview and Commit may each call it.
type TransformFunc func(old string) (string, error)

// Source holds exactly one of full content, hunks, or a transform.
//
// The zero value is SourceNone. Build values with FullContent, Patch,
// PatchText or Transform.
type Source struct {
	kind      SourceKind
	content   string
	hunks     []patch.Hunk
	transform TransformFunc
}

// FullContent returns a source that replaces the whole file with content.
// Empty content is valid and produces an empty file.
func FullContent(content string) Source {
	return Source{kind: SourceContent, content: content}
}

// Patch returns a source that applies hunks to the current content.
func Patch(hunks []patch.Hunk) Source {
	return Source{kind: SourcePatch, hunks: hunks}
}

// PatchText parses text with patch.Parse and returns a patch source.
func PatchText(text string) Source {
	return Patch(patch.Parse(text))
}

// Transform returns a source that computes new content with fn.
func Transform(fn TransformFunc) Source {
	return Source{kind: SourceTransform, transform: fn}
}

// Kind returns which source is set.
func (s Source) Kind() SourceKind {
	return s.kind
}

// IsZero reports whether no source is set.
func (s Source) IsZero() bool {
	return s.kind == SourceNone
}

// Content returns the literal content and true for a SourceContent.
func (s Source) Content() (string, bool) {
	return s.content, s.kind == SourceContent
}

// Hunks returns the hunks of a SourcePatch, nil otherwise.
func (s Source) Hunks() []patch.Hunk {
	if s.kind != SourcePatch {
		return nil
	}
	return s.hunks
}

// Resolve computes the new content given the current content.
//
// # Inputs
//
//   - old: Current content of the target. Empty for a missing file.
//
// # Outputs
//
//   - string: New content.
//   - error: ErrNoSource for SourceNone, or the transform's error wrapped.
func (s Source) Resolve(old string) (string, error) {
	switch s.kind {
	case SourceContent:
		return s.content, nil
	case SourcePatch:
		return patch.Apply(old, s.hunks), nil
	case SourceTransform:
		out, err := s.transform(old)
		if err != nil {
			return "", fmt.Errorf("transform: %w", err)
		}
		return out, nil
	default:
		return "", ErrNoSource
	}
}

func (s Source) validate() error {
	if s.kind == SourceTransform && s.transform == nil {
		return malformed("source", "transform function is nil")
	}
	return nil
}
