// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/editcore/services/editcore/operation"
)

// Package-level meter for transaction metrics.
var meter = otel.Meter("editcore.transaction")

// Metric instruments for transaction operations.
var (
	beginTotal      metric.Int64Counter
	commitTotal     metric.Int64Counter
	abortTotal      metric.Int64Counter
	operationsTotal metric.Int64Counter
	restoresTotal   metric.Int64Counter
	recoveredTotal  metric.Int64Counter
	commitDuration  metric.Float64Histogram
	operationsPerTx metric.Int64Histogram
	activeGauge     metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
// Set by the Manager on initialization.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		beginTotal, err = meter.Int64Counter(
			"editcore_transaction_begin_total",
			metric.WithDescription("Total number of transaction begin calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitTotal, err = meter.Int64Counter(
			"editcore_transaction_commit_total",
			metric.WithDescription("Total number of transaction commits by status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		abortTotal, err = meter.Int64Counter(
			"editcore_transaction_abort_total",
			metric.WithDescription("Total number of aborted transactions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationsTotal, err = meter.Int64Counter(
			"editcore_transaction_operations_total",
			metric.WithDescription("Operations applied during commit by kind and status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		restoresTotal, err = meter.Int64Counter(
			"editcore_transaction_restores_total",
			metric.WithDescription("Paths restored from backup by status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recoveredTotal, err = meter.Int64Counter(
			"editcore_transaction_recovered_total",
			metric.WithDescription("Interrupted transactions replayed from the journal"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitDuration, err = meter.Float64Histogram(
			"editcore_transaction_commit_duration_seconds",
			metric.WithDescription("Duration of commits in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationsPerTx, err = meter.Int64Histogram(
			"editcore_transaction_operations",
			metric.WithDescription("Number of queued operations per committed transaction"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		activeGauge, err = meter.Int64UpDownCounter(
			"editcore_transaction_active",
			metric.WithDescription("Number of currently open transactions"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// recordBegin records a Begin call.
func recordBegin(ctx context.Context, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	beginTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", statusLabel(success)),
	))
}

// recordCommit records a finished commit.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - duration: How long the commit ran.
//   - operations: Number of queued operations.
//   - success: Whether every operation applied.
func recordCommit(ctx context.Context, duration time.Duration, operations int, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", statusLabel(success)))

	commitTotal.Add(ctx, 1, attrs)
	commitDuration.Record(ctx, duration.Seconds(), attrs)
	operationsPerTx.Record(ctx, int64(operations), attrs)
}

// recordAbort records an aborted transaction.
func recordAbort(ctx context.Context, operations int) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	abortTotal.Add(ctx, 1)
	operationsPerTx.Record(ctx, int64(operations), metric.WithAttributes(
		attribute.String("status", "aborted"),
	))
}

// recordOperation records one applied (or failed) operation.
func recordOperation(ctx context.Context, kind operation.Kind, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	operationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", statusLabel(success)),
	))
}

// recordRestore records one path restore during rollback or recovery.
func recordRestore(ctx context.Context, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	restoresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", statusLabel(success)),
	))
}

// recordRecovered records a journal entry replayed by Recover.
func recordRecovered(ctx context.Context, complete bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	recoveredTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("complete", complete),
	))
}

// incActive increments the open transaction gauge.
func incActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	activeGauge.Add(ctx, 1)
}

// decActive decrements the open transaction gauge.
func decActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	activeGauge.Add(ctx, -1)
}
