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

	"github.com/spf13/cobra"
)

func newRecoverCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Roll back transactions left pending in the journal",
		Long: `Restores every file recorded by a commit that did not finish,
for example after a crash or an incomplete rollback. Requires the
journal to be enabled in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return errors.New("journal is disabled; set journal.enabled or EDITCORE_JOURNAL_ENABLED=true")
			}
			// Recover explicitly so the report can be printed.
			cfg.RecoverOnInit = false

			e, err := openEngine(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close(context.Background())

			report, err := e.manager.Recover(cmd.Context())
			if err != nil {
				return err
			}
			printRecovery(cmd.OutOrStdout(), e, report)
			if report.Failed > 0 {
				return fmt.Errorf("%d path(s) could not be restored", report.Failed)
			}
			return nil
		},
	}
}
