// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package document applies edits to open in-memory documents.
//
// # Description
//
// The Applier performs tentative-apply/validate/revert on one document at a
// time and keeps a bounded history ring for manual undo. It talks to the
// editor only through the Store port and to external tooling through the
// Validator and Formatter ports, so each can be replaced with a fake.
//
// Lines are 0-based. Line ranges passed to a Store are half-open
// [start, end), and an end of -1 means "through the last line".
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Handle identifies an open document.
type Handle int

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrUnknownDocument indicates a handle that is not open.
	ErrUnknownDocument = errors.New("unknown document")

	// ErrInvalidRange indicates a line or column range outside the document.
	ErrInvalidRange = errors.New("invalid range")
)

// =============================================================================
// PORTS
// =============================================================================

// Store is the open-document collaborator.
type Store interface {
	// LineCount returns the number of lines in doc.
	LineCount(doc Handle) (int, error)

	// GetLines returns lines [start, end). end == -1 reads to the last line.
	GetLines(doc Handle, start, end int) ([]string, error)

	// SetLines replaces lines [start, end) with lines.
	SetLines(doc Handle, start, end int, lines []string) error

	// Name returns the path doc is bound to.
	Name(doc Handle) (string, error)

	// BindName points doc at path.
	BindName(doc Handle, path string) error

	// Lookup returns the open document bound to path, if any.
	Lookup(path string) (Handle, bool)
}

// Validator checks whether document text parses.
type Validator interface {
	// Validate returns nil if content is valid, a *ValidationError locating
	// the first problem, or another error if validation could not run.
	// path is used to pick a grammar.
	Validate(ctx context.Context, path, content string) error
}

// Formatter re-formats document text in place. Failures are non-fatal.
type Formatter interface {
	// FormatRange formats lines [start, end) of doc.
	FormatRange(ctx context.Context, doc Handle, start, end int) error

	// FormatDocument formats all of doc.
	FormatDocument(ctx context.Context, doc Handle) error
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError reports the first syntax error in a document.
type ValidationError struct {
	// Path is the document path, if known.
	Path string

	// Line is the 1-based line of the first error.
	Line int

	// Column is the 1-based column of the first error, 0 if unknown.
	Column int

	// Snippet is the offending source text, trimmed.
	Snippet string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	loc := fmt.Sprintf("line %d", e.Line)
	if e.Column > 0 {
		loc = fmt.Sprintf("line %d, column %d", e.Line, e.Column)
	}
	if e.Path != "" {
		loc = e.Path + ": " + loc
	}
	if e.Snippet == "" {
		return "syntax error at " + loc
	}
	return fmt.Sprintf("syntax error at %s: %s", loc, e.Snippet)
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// =============================================================================
// TEXT HELPERS
// =============================================================================

// SplitText converts file content into document lines.
//
// A single trailing newline is the end-of-line of the last line, not an
// extra empty line. Empty content is one empty line, as in an editor buffer.
func SplitText(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// JoinLines converts document lines back into file content with a trailing
// newline. A document holding one empty line is empty content.
func JoinLines(lines []string) string {
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Text reads the whole content of doc.
func Text(store Store, doc Handle) (string, error) {
	lines, err := store.GetLines(doc, 0, -1)
	if err != nil {
		return "", err
	}
	return JoinLines(lines), nil
}
