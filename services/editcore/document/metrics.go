// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("editcore.document")

var (
	editsTotal         metric.Int64Counter
	validationFailures metric.Int64Counter
	formatterFailures  metric.Int64Counter
	historyEvictions   metric.Int64Counter
	rollbackStepsTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

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

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		editsTotal, err = meter.Int64Counter(
			"document_edits_total",
			metric.WithDescription("Total number of document edits by kind and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		validationFailures, err = meter.Int64Counter(
			"document_validation_failures_total",
			metric.WithDescription("Edits reverted because the document failed validation"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		formatterFailures, err = meter.Int64Counter(
			"document_formatter_failures_total",
			metric.WithDescription("Formatter calls that failed and were ignored"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		historyEvictions, err = meter.Int64Counter(
			"document_history_evictions_total",
			metric.WithDescription("History entries evicted by capacity"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackStepsTotal, err = meter.Int64Counter(
			"document_rollback_steps_total",
			metric.WithDescription("History entries replayed by manual rollback"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func metricsReady() bool {
	return metricsEnabled.Load() && initMetrics() == nil
}

// recordEdit records one edit attempt. kind is "range" or "full"; status is
// "applied", "invalid" or "error".
func recordEdit(ctx context.Context, kind, status string) {
	if !metricsReady() {
		return
	}
	editsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	if status == "invalid" {
		validationFailures.Add(ctx, 1)
	}
}

func recordFormatterFailure(ctx context.Context) {
	if !metricsReady() {
		return
	}
	formatterFailures.Add(ctx, 1)
}

func recordEviction(ctx context.Context) {
	if !metricsReady() {
		return
	}
	historyEvictions.Add(ctx, 1)
}

func recordRollback(ctx context.Context, steps int, scope string) {
	if !metricsReady() || steps == 0 {
		return
	}
	rollbackStepsTotal.Add(ctx, int64(steps), metric.WithAttributes(
		attribute.String("scope", scope),
	))
}
