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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AleutianAI/editcore/services/editcore/operation"
)

const transactionTracerName = "editcore.transaction"

// Tracer provides OpenTelemetry tracing for transaction operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with transaction-specific span creation
// and attribute management. When disabled, returns noop spans.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new transaction tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(transactionTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartBegin starts a span for Begin.
func (t *Tracer) StartBegin(ctx context.Context) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "transaction.begin", trace.WithSpanKind(trace.SpanKindInternal))
}

// EndBegin completes a begin span.
//
// # Inputs
//
//   - span: The span to end.
//   - tx: The created transaction (may be nil on error).
//   - err: Error if begin failed.
func (t *Tracer) EndBegin(span trace.Span, tx *Transaction, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetStatus(codes.Ok, "")
	if tx != nil {
		span.SetAttributes(attribute.String("tx.id", tx.ID))
	}
}

// StartCommit starts a span for Commit.
//
// # Inputs
//
//   - ctx: Parent context for span creation.
//   - tx: The transaction being committed.
//
// # Outputs
//
//   - context.Context: Context with span attached.
//   - trace.Span: The created span. Caller must call End() when done.
func (t *Tracer) StartCommit(ctx context.Context, tx *Transaction) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "transaction.commit",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.Int("tx.operations", len(tx.ops)),
			attribute.Int("tx.backups", tx.backups.Len()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "committing transaction",
		slog.String("tx_id", tx.ID),
		slog.Int("operations", len(tx.ops)),
	)

	return ctx, span
}

// EndCommit completes a commit span.
func (t *Tracer) EndCommit(span trace.Span, result *Result, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ce, ok := err.(*CommitError); ok {
			span.SetAttributes(
				attribute.Int("tx.failed_index", ce.Index),
				attribute.Bool("tx.rollback_complete", ce.RollbackComplete()),
			)
		}
		return
	}

	span.SetStatus(codes.Ok, "")
	if result != nil {
		span.SetAttributes(
			attribute.Int64("tx.duration_ms", result.Duration.Milliseconds()),
			attribute.Int("tx.applied", result.Applied),
		)
	}
}

// StartOperation starts a child span for one operation of a commit.
//
// # Inputs
//
//   - ctx: Parent context (should contain the commit span).
//   - index: 1-based position of the operation.
//   - op: The operation being applied.
func (t *Tracer) StartOperation(ctx context.Context, index int, op operation.Operation) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	attrs := []attribute.KeyValue{
		attribute.Int("op.index", index),
		attribute.String("op.kind", string(op.Kind)),
		attribute.String("op.path", truncateForTrace(op.Path, 200)),
	}
	if op.NewPath != "" {
		attrs = append(attrs, attribute.String("op.new_path", truncateForTrace(op.NewPath, 200)))
	}
	return t.tracer.Start(ctx, "transaction.operation", trace.WithAttributes(attrs...))
}

// StartRestore starts a child span for the rollback of a failed commit.
func (t *Tracer) StartRestore(ctx context.Context, txID string, paths int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	return t.tracer.Start(ctx, "transaction.restore",
		trace.WithAttributes(
			attribute.String("tx.id", txID),
			attribute.Int("tx.paths", paths),
		),
	)
}

// StartAbort starts a span for Abort.
func (t *Tracer) StartAbort(ctx context.Context, tx *Transaction) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	return t.tracer.Start(ctx, "transaction.abort",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.Int("tx.operations", len(tx.ops)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan completes an operation, restore or abort span.
func (t *Tracer) EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetStatus(codes.Ok, "")
}

// RecordStateTransition records a state transition event on the current span.
//
// # Inputs
//
//   - ctx: Context containing the active span.
//   - txID: Transaction identifier.
//   - from: Previous state.
//   - to: New state.
//   - duration: Time spent in the previous state.
func (t *Tracer) RecordStateTransition(ctx context.Context, txID string, from, to Status, duration time.Duration) {
	span := trace.SpanFromContext(ctx)
	// SpanFromContext returns a noop span (not nil) when none exists.
	if !span.SpanContext().IsValid() {
		return
	}

	span.AddEvent("state_transition",
		trace.WithAttributes(
			attribute.String("tx.id", txID),
			attribute.String("tx.from_state", string(from)),
			attribute.String("tx.to_state", string(to)),
			attribute.Int64("tx.duration_in_state_ms", duration.Milliseconds()),
		),
	)

	t.logger.DebugContext(ctx, "transaction state transition",
		slog.String("tx_id", txID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Duration("duration", duration),
	)
}

// truncateForTrace truncates a string for use in span attributes.
//
// If maxLen is less than 4, returns at most maxLen characters without suffix.
func truncateForTrace(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		if maxLen <= 0 {
			return ""
		}
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
