// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package operation defines the typed file changes a transaction applies.
//
// An Operation is a tagged variant over Kind. Each kind has its own required
// fields, enforced by the constructors and re-checked by Validate when an
// operation was assembled field by field (for example by the ingestor).
package operation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind is the type of change an operation makes.
type Kind string

const (
	// KindCreate writes a new file, creating parent directories.
	KindCreate Kind = "create"

	// KindModify rewrites an existing file from its content source.
	KindModify Kind = "modify"

	// KindDelete removes a file.
	KindDelete Kind = "delete"

	// KindRename moves a file to NewPath.
	KindRename Kind = "rename"
)

// Kinds lists every valid kind in declaration order.
var Kinds = []Kind{KindCreate, KindModify, KindDelete, KindRename}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindModify, KindDelete, KindRename:
		return true
	}
	return false
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// kindAliases maps loose spellings seen in generated output to kinds.
var kindAliases = map[string]Kind{
	"create": KindCreate,
	"new":    KindCreate,
	"add":    KindCreate,
	"modify": KindModify,
	"edit":   KindModify,
	"update": KindModify,
	"delete": KindDelete,
	"remove": KindDelete,
	"rename": KindRename,
	"move":   KindRename,
}

// ParseKind parses a kind name case-insensitively, accepting common aliases.
func ParseKind(s string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", malformed("kind", fmt.Sprintf("unknown kind %q", s))
	}
	return k, nil
}

// Operation is one requested file change.
//
// # Description
//
// Exactly the fields relevant to Kind are consulted:
//
//   - Create: Path and Source (usually FullContent).
//   - Modify: Path and Source.
//   - Delete: Path.
//   - Rename: Path and NewPath.
//
// Operations are values. A transaction copies an operation when it is added
// and never mutates it afterwards.
type Operation struct {
	// Kind is the change type.
	Kind Kind

	// Path is the target path.
	Path string

	// NewPath is the destination of a rename.
	NewPath string

	// Source computes the new content for Create and Modify.
	Source Source

	// Description is free text shown in previews.
	Description string
}

// Create returns a validated create operation.
func Create(path, content string) (Operation, error) {
	op := Operation{Kind: KindCreate, Path: path, Source: FullContent(content)}
	return op, op.Validate()
}

// Modify returns a validated modify operation.
func Modify(path string, src Source) (Operation, error) {
	op := Operation{Kind: KindModify, Path: path, Source: src}
	return op, op.Validate()
}

// Delete returns a validated delete operation.
func Delete(path string) (Operation, error) {
	op := Operation{Kind: KindDelete, Path: path}
	return op, op.Validate()
}

// Rename returns a validated rename operation.
func Rename(path, newPath string) (Operation, error) {
	op := Operation{Kind: KindRename, Path: path, NewPath: newPath}
	return op, op.Validate()
}

// WithDescription returns a copy of op with the description set.
func (op Operation) WithDescription(description string) Operation {
	op.Description = description
	return op
}

// Validate checks the per-kind required fields.
//
// # Outputs
//
//   - error: A *MalformedError naming the first offending field, or nil.
func (op Operation) Validate() error {
	if !op.Kind.Valid() {
		return malformed("kind", fmt.Sprintf("unknown kind %q", op.Kind))
	}
	if strings.TrimSpace(op.Path) == "" {
		return malformed("path", "path is required")
	}

	switch op.Kind {
	case KindCreate, KindModify:
		if op.Source.IsZero() {
			return malformed("source", fmt.Sprintf("%s requires content, a patch, or a transform", op.Kind))
		}
		return op.Source.validate()
	case KindRename:
		if strings.TrimSpace(op.NewPath) == "" {
			return malformed("new_path", "rename requires new_path")
		}
		if filepath.Clean(op.NewPath) == filepath.Clean(op.Path) {
			return malformed("new_path", "new_path equals path")
		}
	}
	return nil
}

// Normalize resolves Path and NewPath to clean absolute paths under root.
//
// # Description
//
// Relative paths are joined to root. Absolute paths are cleaned. Either way
// the result must stay inside root; an escaping path is malformed. An empty
// root only cleans and absolutizes against the working directory.
//
// # Inputs
//
//   - root: Absolute workspace root, or "".
//
// # Outputs
//
//   - Operation: Copy with normalized paths.
//   - error: *MalformedError if a path escapes root.
func (op Operation) Normalize(root string) (Operation, error) {
	p, err := normalizePath(root, op.Path)
	if err != nil {
		return op, malformed("path", err.Error())
	}
	op.Path = p

	if op.NewPath != "" {
		np, err := normalizePath(root, op.NewPath)
		if err != nil {
			return op, malformed("new_path", err.Error())
		}
		op.NewPath = np
	}
	return op, nil
}

func normalizePath(root, path string) (string, error) {
	if root == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolving %q: %w", path, err)
		}
		return abs, nil
	}

	root = filepath.Clean(root)
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q is outside %q", path, root)
	}
	return path, nil
}

// Paths returns the paths the operation touches: Path, plus NewPath for a
// rename.
func (op Operation) Paths() []string {
	if op.Kind == KindRename {
		return []string{op.Path, op.NewPath}
	}
	return []string{op.Path}
}

// String returns a short form such as "modify main.go" or
// "rename a.go -> b.go".
func (op Operation) String() string {
	if op.Kind == KindRename {
		return fmt.Sprintf("%s %s -> %s", op.Kind, op.Path, op.NewPath)
	}
	return fmt.Sprintf("%s %s", op.Kind, op.Path)
}
