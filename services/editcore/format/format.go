// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package format re-formats open documents with external formatter
// commands, one per file extension.
//
// Formatter implements document.Formatter. The document text (or the lines
// of a range) is piped to the command's stdin and the command's stdout
// replaces it. Any failure leaves the document untouched and is returned;
// the document Applier logs and ignores it.
package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/editcore/services/editcore/document"
)

// PathPlaceholder in a command argument is replaced with the document path.
const PathPlaceholder = "{path}"

// DefaultTimeout bounds one formatter run.
const DefaultTimeout = 10 * time.Second

// ErrNoFormatter indicates no command is configured for the document's
// extension.
var ErrNoFormatter = errors.New("no formatter configured")

// DefaultCommands returns formatter commands for common languages.
// Each reads source on stdin and writes the result to stdout.
func DefaultCommands() map[string][]string {
	return map[string][]string{
		".go": {"gofmt"},
		".py": {"black", "--quiet", "-"},
		".rs": {"rustfmt", "--emit", "stdout"},
		".js": {"prettier", "--stdin-filepath", PathPlaceholder},
		".ts": {"prettier", "--stdin-filepath", PathPlaceholder},
		".sh": {"shfmt"},
	}
}

// Runner executes a formatter command.
type Runner interface {
	// Run executes argv with stdin and returns stdout.
	Run(ctx context.Context, argv []string, stdin string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Dir is the working directory. Empty uses the process directory.
	Dir string

	// Timeout bounds each run. Zero uses DefaultTimeout.
	Timeout time.Duration
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, argv []string, stdin string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("empty formatter command")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%s: timeout after %v", argv[0], timeout)
		}
		return "", fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Config configures a Formatter.
type Config struct {
	// Commands maps a lower-case file extension (".go") to an argv.
	// Nil uses DefaultCommands().
	Commands map[string][]string

	// Runner executes commands. Nil uses ExecRunner{}.
	Runner Runner

	// Logger is the base logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// Formatter formats documents in a document.Store.
//
// # Thread Safety
//
// Safe for concurrent use if the Store and Runner are.
type Formatter struct {
	store    document.Store
	commands map[string][]string
	runner   Runner
	logger   *slog.Logger
}

// New creates a formatter over store.
func New(store document.Store, cfg Config) *Formatter {
	if cfg.Commands == nil {
		cfg.Commands = DefaultCommands()
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	commands := make(map[string][]string, len(cfg.Commands))
	for ext, argv := range cfg.Commands {
		commands[strings.ToLower(ext)] = argv
	}

	return &Formatter{
		store:    store,
		commands: commands,
		runner:   cfg.Runner,
		logger:   cfg.Logger.With("component", "format.Formatter"),
	}
}

// FormatDocument implements document.Formatter.
func (f *Formatter) FormatDocument(ctx context.Context, doc document.Handle) error {
	return f.format(ctx, doc, 0, -1)
}

// FormatRange implements document.Formatter. Lines [start, end) are piped
// through the formatter on their own, so the command must accept fragments.
func (f *Formatter) FormatRange(ctx context.Context, doc document.Handle, start, end int) error {
	return f.format(ctx, doc, start, end)
}

func (f *Formatter) format(ctx context.Context, doc document.Handle, start, end int) error {
	name, err := f.store.Name(doc)
	if err != nil {
		return err
	}
	argv, err := f.command(name)
	if err != nil {
		return err
	}

	lines, err := f.store.GetLines(doc, start, end)
	if err != nil {
		return err
	}
	input := document.JoinLines(lines)

	started := time.Now()
	output, err := f.runner.Run(ctx, argv, input)
	if err != nil {
		return fmt.Errorf("formatting %s: %w", name, err)
	}

	f.logger.Debug("formatter finished",
		"path", name,
		"command", argv[0],
		"start", start,
		"end", end,
		"duration", time.Since(started))

	if output == input {
		return nil
	}
	return f.store.SetLines(doc, start, end, document.SplitText(output))
}

// command returns the argv for path with placeholders expanded.
func (f *Formatter) command(path string) ([]string, error) {
	argv, ok := f.commands[strings.ToLower(filepath.Ext(path))]
	if !ok || len(argv) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoFormatter, path)
	}

	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = strings.ReplaceAll(arg, PathPlaceholder, path)
	}
	return out, nil
}

var _ document.Formatter = (*Formatter)(nil)
