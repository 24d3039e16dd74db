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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/editcore/services/editcore/config"
)

// rootOptions holds the global flags.
type rootOptions struct {
	configPath string
	root       string
	logLevel   string
	jsonLogs   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "editcore",
		Short: "Apply multi-file edits atomically, with rollback on failure",
		Long: `editcore applies a batch of create, modify, delete and rename
operations to a workspace as one transaction. If any operation fails,
every file already touched is restored from its backup.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default <root>/"+config.DefaultFile+")")
	flags.StringVar(&opts.root, "root", "", "workspace root (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.jsonLogs, "json-logs", false, "emit logs as JSON")

	cmd.AddCommand(
		newApplyCmd(opts),
		newPreviewCmd(opts),
		newWatchCmd(opts),
		newRecoverCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// loadConfig resolves the configuration for a command invocation.
// Flags override environment, which overrides the file.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := o.configPath
	if path == "" {
		base := o.root
		if base == "" {
			base = "."
		}
		path = filepath.Join(base, config.DefaultFile)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if o.root != "" {
		cfg.Root = o.root
	}
	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.Observability.JSONLogs = o.jsonLogs
	}
	return cfg, cfg.Validate()
}
