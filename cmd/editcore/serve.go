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
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/editcore/services/editcore/api"
	"github.com/AleutianAI/editcore/services/editcore/inbox"
	"github.com/AleutianAI/editcore/services/editcore/ingest"
)

type serveOptions struct {
	*rootOptions
	addr     string
	inboxDir string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the edit API over HTTP",
		Long: `Serves POST /v1/edits/preview, /v1/edits/apply and /v1/edits/recover,
GET /v1/health, and /metrics when the Prometheus exporter is enabled.
With --inbox, also commits files dropped into that directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8085", "listen address")
	cmd.Flags().StringVar(&opts.inboxDir, "inbox", "", "also watch this directory for operation files")
	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Observability.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	e, err := openEngine(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close(context.Background())

	handlers := api.NewHandlers(e.manager, e.ingestor, e.log.Slog())
	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           api.NewRouter(handlers, e.telemetry.MetricsHandler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var w *inbox.Watcher
	if opts.inboxDir != "" {
		format, err := ingest.ParseFormat(cfg.InputFormat)
		if err != nil {
			return err
		}
		w, err = inbox.New(opts.inboxDir, e.ingestor, e.commitDelivery(cmd.OutOrStdout()), inbox.Options{
			Format:  format,
			Archive: true,
			Logger:  e.log.Slog(),
		})
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.logger.Info("serving edit API", "addr", opts.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if w != nil {
		if err := w.Start(gctx); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			w.Stop()
			return nil
		})
	}

	return g.Wait()
}
