// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest turns untrusted operation text into operations.
//
// # Description
//
// Three input shapes are accepted:
//
//   - Structured data, JSON or YAML, whose top level is either
//     {operations: [...]} or a bare list of operation records.
//   - A line-oriented textual protocol of FILE: records (see ParseText).
//   - A git-style multi-file unified diff.
//
// Parsing is permissive: the source is usually a language model, so stray
// prose and unrecognized records are skipped rather than failing the whole
// input. Records are not validated against the operation rules here; a
// Modify without a body comes out with an empty Source and is rejected when
// added to a transaction.
package ingest

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/AleutianAI/editcore/services/editcore/operation"
)

// Format identifies an input shape.
type Format string

const (
	// FormatAuto detects the shape from the input.
	FormatAuto Format = "auto"

	// FormatStructured is JSON or YAML.
	FormatStructured Format = "structured"

	// FormatText is the FILE:/ACTION:/CONTENT: protocol.
	FormatText Format = "text"

	// FormatDiff is a multi-file unified diff.
	FormatDiff Format = "diff"
)

// ParseFormat parses a format name. Empty means FormatAuto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatStructured, FormatText, FormatDiff:
		return f, nil
	case "json", "yaml":
		return FormatStructured, nil
	default:
		return "", errors.New("unknown input format " + s)
	}
}

// Ingestor parses operation input.
//
// Thread Safety: Safe for concurrent use.
type Ingestor struct {
	logger *slog.Logger
}

// New creates an Ingestor. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{logger: logger.With("component", "ingest.Ingestor")}
}

// Parse parses raw in the given format.
//
// # Description
//
// FormatAuto picks the shape with Detect. When the guessed structured or
// diff shape cannot be decoded, the input is read as the textual protocol,
// so a stray leading line such as a prose bullet does not lose the records
// after it. An explicit structured or diff format returns the decode error;
// the textual protocol never fails.
//
// # Inputs
//
//   - raw: The input text.
//   - format: Input shape, or FormatAuto.
//
// # Outputs
//
//   - []operation.Operation: Operations in input order.
//   - error: Non-nil if input in an explicit structured or diff format is
//     undecodable.
func (in *Ingestor) Parse(raw string, format Format) ([]operation.Operation, error) {
	guessed := format == FormatAuto || format == ""
	if guessed {
		format = Detect(raw)
	}
	in.logger.Debug("parsing operations", "format", format, "guessed", guessed, "bytes", len(raw))

	var (
		ops []operation.Operation
		err error
	)
	switch format {
	case FormatStructured:
		ops, err = in.ParseStructured(raw)
	case FormatDiff:
		ops, err = in.ParseDiff(raw)
	default:
		return in.ParseText(raw), nil
	}
	if err != nil && guessed {
		in.logger.Debug("guessed format failed, reading as text", "format", format, "error", err)
		return in.ParseText(raw), nil
	}
	return ops, err
}

// Detect guesses the shape of raw.
//
// Input starting with '{' or '[', or with an "operations:" key or a YAML
// list item, is structured. Input starting with a diff header is a diff.
// Anything else is the textual protocol.
func Detect(raw string) Format {
	trimmed := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(trimmed, "{"), strings.HasPrefix(trimmed, "["):
		return FormatStructured
	case strings.HasPrefix(trimmed, "operations:"), strings.HasPrefix(trimmed, "- "):
		return FormatStructured
	case strings.HasPrefix(trimmed, "diff --git "), strings.HasPrefix(trimmed, "--- "):
		return FormatDiff
	default:
		return FormatText
	}
}

// build converts one decoded record into an operation. ok is false when the
// record has no path or an unknown kind.
func (in *Ingestor) build(r record) (operation.Operation, bool) {
	path := strings.TrimSpace(r.Path)
	if path == "" {
		in.logger.Debug("skipping record without path", "action", r.Action)
		return operation.Operation{}, false
	}
	kind, err := operation.ParseKind(r.Action)
	if err != nil {
		in.logger.Debug("skipping record with unknown action", "path", path, "action", r.Action)
		return operation.Operation{}, false
	}

	op := operation.Operation{
		Kind:        kind,
		Path:        path,
		NewPath:     strings.TrimSpace(r.NewPath),
		Description: strings.TrimSpace(r.Description),
	}
	switch {
	case r.Content != nil:
		op.Source = operation.FullContent(*r.Content)
		if r.Patch != "" {
			in.logger.Debug("record has content and patch, using content", "path", path)
		}
	case r.Patch != "":
		op.Source = operation.PatchText(r.Patch)
	}
	return op, true
}

// record is a decoded operation record common to every input shape.
type record struct {
	Path        string  `validate:"required,max=4096"`
	Action      string  `validate:"required"`
	NewPath     string  `validate:"omitempty,max=4096"`
	Content     *string `validate:"omitempty,maxbytes"`
	Patch       string  `validate:"omitempty,maxbytes"`
	Description string
}
