// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax validates document text with tree-sitter.
//
// Validator implements document.Validator for Go, Python, JavaScript,
// TypeScript, Rust and Bash. Files in other languages are reported valid,
// since there is nothing to check them against.
//
// Thread Safety: Validator is safe for concurrent use. Each call creates
// its own parser.
package syntax

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/editcore/services/editcore/document"
)

// maxDepth bounds recursion on pathological trees.
const maxDepth = 1000

// maxSnippet bounds the snippet length carried by errors.
const maxSnippet = 80

// Validator checks syntax with tree-sitter.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a validator. Nil logger uses slog.Default().
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger.With("component", "syntax.Validator")}
}

// Language returns the language name for path's extension, or "".
func Language(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py", ".pyi":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".mts", ".cts":
		return "typescript"
	case ".rs":
		return "rust"
	case ".sh", ".bash":
		return "bash"
	default:
		return ""
	}
}

// Supported reports whether path has a grammar.
func Supported(path string) bool {
	return Language(path) != ""
}

func grammar(lang string) *sitter.Language {
	switch lang {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	case "rust":
		return rust.GetLanguage()
	case "bash":
		return bash.GetLanguage()
	default:
		return nil
	}
}

// Validate implements document.Validator.
//
// Description:
//
//	Parses content with the grammar for path and reports the first ERROR
//	or MISSING node in document order as a *document.ValidationError.
//
// Outputs:
//
//	error - nil when valid or unsupported, *document.ValidationError on a
//	syntax error, or a parser error.
func (v *Validator) Validate(ctx context.Context, path, content string) error {
	lang := Language(path)
	if lang == "" {
		v.logger.Debug("no grammar, skipping validation", "path", path)
		return nil
	}

	ctx, span := otel.Tracer("editcore.syntax").Start(ctx, "syntax.Validate",
		trace.WithAttributes(
			attribute.String("syntax.language", lang),
			attribute.Int("syntax.bytes", len(content)),
		),
	)
	defer span.End()

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar(lang))

	src := []byte(content)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("parsing %s as %s: %w", path, lang, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}

	node := firstError(root, 0)
	if node == nil {
		// HasError but no ERROR/MISSING node reachable within maxDepth.
		node = root
	}

	point := node.StartPoint()
	verr := &document.ValidationError{
		Path:    path,
		Line:    int(point.Row) + 1,
		Column:  int(point.Column) + 1,
		Snippet: snippet(content, int(point.Row)),
	}
	if node.IsMissing() {
		verr.Snippet = fmt.Sprintf("missing %q near: %s", node.Type(), verr.Snippet)
	}
	span.SetAttributes(attribute.Int("syntax.error_line", verr.Line))
	return verr
}

// firstError returns the first ERROR or MISSING node in pre-order.
func firstError(node *sitter.Node, depth int) *sitter.Node {
	if node == nil || depth > maxDepth {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstError(node.Child(i), depth+1); found != nil {
			return found
		}
	}
	return nil
}

// snippet returns line row of content, trimmed and truncated.
func snippet(content string, row int) string {
	lines := strings.Split(content, "\n")
	if row < 0 || row >= len(lines) {
		return ""
	}
	s := strings.TrimSpace(lines[row])
	if len(s) > maxSnippet {
		s = s[:maxSnippet] + "..."
	}
	return s
}

var _ document.Validator = (*Validator)(nil)
