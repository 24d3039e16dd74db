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
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/editcore/pkg/logging"
	"github.com/AleutianAI/editcore/services/editcore/config"
	"github.com/AleutianAI/editcore/services/editcore/document"
	"github.com/AleutianAI/editcore/services/editcore/format"
	"github.com/AleutianAI/editcore/services/editcore/ingest"
	"github.com/AleutianAI/editcore/services/editcore/journal"
	"github.com/AleutianAI/editcore/services/editcore/operation"
	"github.com/AleutianAI/editcore/services/editcore/storage"
	"github.com/AleutianAI/editcore/services/editcore/syntax"
	"github.com/AleutianAI/editcore/services/editcore/telemetry"
	"github.com/AleutianAI/editcore/services/editcore/transaction"
)

// engine is the wired edit engine for one CLI invocation.
type engine struct {
	cfg    config.Config
	root   string
	log    *logging.Logger
	logger *slog.Logger

	storage  *storage.FS
	buffers  *document.Buffers
	applier  *document.Applier
	journal  *journal.Journal
	manager  *transaction.Manager
	ingestor *ingest.Ingestor

	telemetry  *telemetry.Provider
	metricsSrv *http.Server
}

// openEngine wires storage, documents, validation, formatting, the
// journal and telemetry into a transaction manager.
func openEngine(ctx context.Context, cfg config.Config, errOut io.Writer) (_ *engine, err error) {
	logCfg := cfg.LoggingConfig()
	logCfg.Output = errOut
	log := logging.New(logCfg)
	logger := log.With("component", "cmd.editcore")

	e := &engine{cfg: cfg, log: log, logger: logger}
	defer func() {
		if err != nil {
			e.close(context.Background())
		}
	}()

	e.root, err = cfg.RootDir()
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	e.storage, err = storage.NewFS(e.root)
	if err != nil {
		return nil, err
	}

	telCfg := cfg.TelemetryConfig()
	telCfg.Writer = errOut
	e.telemetry, err = telemetry.Init(ctx, telCfg)
	if err != nil {
		return nil, err
	}
	if addr := cfg.Observability.PrometheusAddr; addr != "" {
		e.serveMetrics(addr)
	}

	validator := syntax.NewValidator(log.Slog())
	e.buffers = document.NewBuffers()
	e.applier = document.NewApplier(e.buffers, document.ApplierConfig{
		History:   document.NewHistory(cfg.HistoryCapacity),
		Validator: validator,
		Formatter: format.New(e.buffers, cfg.FormatConfig(log.Slog())),
		Logger:    log.Slog(),
	})

	if cfg.Journal.Enabled {
		jcfg, jerr := cfg.JournalConfig(log.Slog())
		if jerr != nil {
			return nil, jerr
		}
		if !jcfg.InMemory {
			if err := os.MkdirAll(filepath.Dir(jcfg.Path), 0o750); err != nil {
				return nil, fmt.Errorf("create journal dir: %w", err)
			}
		}
		e.journal, err = journal.Open(jcfg)
		if err != nil {
			return nil, err
		}
	}

	txCfg := cfg.TransactionConfig()
	txCfg.Root = e.root
	e.manager, err = transaction.NewManager(txCfg, transaction.Deps{
		Storage:   e.storage,
		Applier:   e.applier,
		Validator: validator,
		Journal:   e.journal,
		Logger:    log.Slog(),
	})
	if err != nil {
		return nil, err
	}

	e.ingestor = ingest.New(log.Slog())
	return e, nil
}

func (e *engine) serveMetrics(addr string) {
	handler := e.telemetry.MetricsHandler()
	if handler == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	e.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := e.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	e.logger.Info("serving metrics", "addr", addr)
}

// close releases everything openEngine acquired. Safe on a partial engine.
func (e *engine) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if e.manager != nil {
		if err := e.manager.Close(); err != nil {
			e.logger.Warn("close manager", "error", err)
		}
	}
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			e.logger.Warn("close journal", "error", err)
		}
	}
	if e.metricsSrv != nil {
		_ = e.metricsSrv.Shutdown(ctx)
	}
	if e.telemetry != nil {
		if err := e.telemetry.Shutdown(ctx); err != nil {
			e.logger.Warn("telemetry shutdown", "error", err)
		}
	}
	_ = e.log.Close()
}

// parse ingests raw input in the given format, falling back to the
// configured default.
func (e *engine) parse(raw, formatName string) ([]operation.Operation, error) {
	if formatName == "" {
		formatName = e.cfg.InputFormat
	}
	f, err := ingest.ParseFormat(formatName)
	if err != nil {
		return nil, err
	}
	ops, err := e.ingestor.Parse(raw, f)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, errors.New("input contains no operations")
	}
	return ops, nil
}

// stage begins a transaction holding ops. With FormatEdits set, every
// created or modified file is loaded into a document buffer first so its
// new content goes through the edit applier's format pass.
func (e *engine) stage(ctx context.Context, ops []operation.Operation) (*transaction.Transaction, error) {
	tx, err := e.manager.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.AddAll(ops); err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}
	if e.cfg.FormatEdits {
		e.openBuffers(tx.Operations())
	}
	return tx, nil
}

func (e *engine) openBuffers(ops []operation.Operation) {
	for _, op := range ops {
		if op.Kind != operation.KindCreate && op.Kind != operation.KindModify {
			continue
		}
		if _, ok := e.buffers.Lookup(op.Path); ok {
			continue
		}
		content, err := e.storage.Read(op.Path)
		if err != nil && !storage.IsNotFound(err) {
			e.logger.Warn("buffer open skipped", "path", op.Path, "error", err)
			continue
		}
		e.buffers.Open(op.Path, content)
	}
}

// rel renders path relative to the workspace root when possible.
func (e *engine) rel(path string) string {
	if r, err := filepath.Rel(e.root, path); err == nil {
		return r
	}
	return path
}
