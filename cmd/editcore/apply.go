// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/editcore/services/editcore/transaction"
)

// errDeclined is returned when the user answers no at the prompt.
var errDeclined = errors.New("commit declined")

// isTerminal reports whether f is an interactive terminal.
var isTerminal = func(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type applyOptions struct {
	*rootOptions
	inputFormat string
	yes         bool
	quiet       bool
}

func newApplyCmd(root *rootOptions) *cobra.Command {
	opts := &applyOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "apply [file|-]",
		Short: "Apply an operation batch as one transaction",
		Long: `Reads operations from a file or stdin, prints a preview, and commits
them atomically. When stdin is a terminal, asks for confirmation first
unless --yes is given.

Exit status 2 means the commit failed and was rolled back; 3 means the
rollback itself was incomplete.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.inputFormat, "input-format", "", "input format: auto, structured, text, diff")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "commit without asking")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print the preview")
	return cmd
}

func newPreviewCmd(root *rootOptions) *cobra.Command {
	opts := &applyOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "preview [file|-]",
		Short: "Show the diffs an operation batch would produce, without writing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.inputFormat, "input-format", "", "input format: auto, structured, text, diff")
	return cmd
}

func runApply(cmd *cobra.Command, opts *applyOptions, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	raw, fromStdin, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	e, err := openEngine(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close(context.Background())

	ops, err := e.parse(raw, opts.inputFormat)
	if err != nil {
		return err
	}
	tx, err := e.stage(ctx, ops)
	if err != nil {
		return err
	}

	if !opts.quiet {
		changes, err := tx.Preview(ctx)
		if err != nil {
			_ = tx.Abort(ctx)
			return err
		}
		printPreview(out, e, changes)
	}

	if !opts.yes && !fromStdin && isTerminal(os.Stdin) {
		ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Apply %d operation(s)? [y/N] ", tx.Len()))
		if err != nil || !ok {
			_ = tx.Abort(ctx)
			if err != nil {
				return err
			}
			return errDeclined
		}
	}

	result, err := tx.Commit(ctx)
	if err != nil {
		var ce *transaction.CommitError
		if errors.As(err, &ce) {
			printCommitError(out, e, ce)
		}
		return err
	}
	printResult(out, e, result)
	return nil
}

func runPreview(cmd *cobra.Command, opts *applyOptions, args []string) error {
	ctx := cmd.Context()

	raw, _, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	e, err := openEngine(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close(context.Background())

	ops, err := e.parse(raw, opts.inputFormat)
	if err != nil {
		return err
	}
	tx, err := e.stage(ctx, ops)
	if err != nil {
		return err
	}
	defer tx.Abort(ctx)

	changes, err := tx.Preview(ctx)
	if err != nil {
		return err
	}
	printPreview(cmd.OutOrStdout(), e, changes)
	return nil
}

// readInput returns the command input and whether it came from stdin.
func readInput(cmd *cobra.Command, args []string) (string, bool, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", true, fmt.Errorf("read stdin: %w", err)
		}
		return string(data), true, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", false, fmt.Errorf("read input: %w", err)
	}
	return string(data), false, nil
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
