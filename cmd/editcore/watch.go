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
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/editcore/services/editcore/inbox"
	"github.com/AleutianAI/editcore/services/editcore/ingest"
	"github.com/AleutianAI/editcore/services/editcore/transaction"
)

type watchOptions struct {
	*rootOptions
	inputFormat string
	existing    bool
	keep        bool
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Commit every operation file dropped into a directory",
		Long: `Watches <dir> for operation files. Each file is committed as one
transaction and then moved to <dir>/processed, or to <dir>/failed when
parsing or the commit fails. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.inputFormat, "input-format", "", "input format: auto, structured, text, diff")
	cmd.Flags().BoolVar(&opts.existing, "existing", false, "also commit files already in the directory")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "leave handled files in place instead of archiving them")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *watchOptions, dir string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	formatName := opts.inputFormat
	if formatName == "" {
		formatName = cfg.InputFormat
	}
	inputFormat, err := ingest.ParseFormat(formatName)
	if err != nil {
		return err
	}

	e, err := openEngine(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close(context.Background())

	out := cmd.OutOrStdout()
	w, err := inbox.New(dir, e.ingestor, e.commitDelivery(out), inbox.Options{
		Format:          inputFormat,
		Archive:         !opts.keep,
		ProcessExisting: opts.existing,
		Logger:          e.log.Slog(),
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "watching %s (Ctrl-C to stop)\n", w.Dir())

	<-ctx.Done()
	w.Stop()
	return nil
}

// commitDelivery returns an inbox handler that commits each delivery as
// one transaction and reports the outcome on out.
func (e *engine) commitDelivery(out io.Writer) inbox.Handler {
	return func(ctx context.Context, d inbox.Delivery) error {
		fmt.Fprintf(out, "%s: %d operation(s)\n", d.Path, len(d.Operations))

		tx, err := e.stage(ctx, d.Operations)
		for errors.Is(err, transaction.ErrTransactionActive) {
			// Another delivery surface holds the manager; wait for it.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
			tx, err = e.stage(ctx, d.Operations)
		}
		if err != nil {
			fmt.Fprintf(out, "  rejected: %v\n", err)
			return err
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
}
