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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/editcore/pkg/logging"
)

const tracerName = "editcore.document"

// Position is a point in a document. Line is 0-based; Col is a byte offset
// into the line, and -1 means end of line.
type Position struct {
	Line int
	Col  int
}

// Range spans from Start up to (not including) End.Col on End.Line.
type Range struct {
	Start Position
	End   Position
}

// LineRange returns a range covering whole lines start..end inclusive.
func LineRange(start, end int) Range {
	return Range{Start: Position{Line: start, Col: 0}, End: Position{Line: end, Col: -1}}
}

// Options control the validate and format steps of an edit.
type Options struct {
	// Validate runs the Validator after writing and reverts on failure.
	Validate bool

	// Format runs the Formatter over the edited lines after validation.
	Format bool
}

// Result describes a successful edit.
type Result struct {
	// Doc is the edited document.
	Doc Handle

	// StartLine and EndLine are the half-open span the edit now occupies.
	StartLine int
	EndLine   int

	// Formatted is true if the formatter ran and succeeded.
	Formatted bool
}

// ApplierConfig configures an Applier.
type ApplierConfig struct {
	// History is the undo ring. Nil creates one with the default capacity.
	History *History

	// Validator checks edited documents. Nil disables validation even when
	// Options.Validate is set.
	Validator Validator

	// Formatter formats edited ranges. Nil disables formatting.
	Formatter Formatter

	// Logger is the base logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// Applier applies single-document edits with validate-or-revert semantics.
//
// # Description
//
// Each edit is written, optionally validated, and either kept (then
// optionally formatted and recorded in History) or reverted. A read failure
// aborts the call before anything is written. Formatter failures are logged
// and ignored.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. Edits are serialized.
type Applier struct {
	mu        sync.Mutex
	store     Store
	history   *History
	validator Validator
	formatter Formatter
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewApplier creates an applier over store.
func NewApplier(store Store, cfg ApplierConfig) *Applier {
	if cfg.History == nil {
		cfg.History = NewHistory(DefaultHistoryCapacity)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Applier{
		store:     store,
		history:   cfg.History,
		validator: cfg.Validator,
		formatter: cfg.Formatter,
		logger:    cfg.Logger.With("component", "document.Applier"),
		tracer:    otel.Tracer(tracerName),
	}
}

// Store returns the document store.
func (a *Applier) Store() Store {
	return a.store
}

// History returns the undo ring.
func (a *Applier) History() *History {
	return a.history
}

// ApplyRangeEdit replaces the text in rng with newText.
//
// # Description
//
// Reads lines rng.Start.Line..rng.End.Line, rebuilds them from the untouched
// prefix before rng.Start.Col, newText, and the untouched suffix after
// rng.End.Col, and writes the result back. newText may contain newlines.
//
// # Inputs
//
//   - ctx: Context passed to the validator and formatter.
//   - doc: Target document.
//   - rng: Range to replace. Lines must exist in doc.
//   - newText: Replacement text.
//   - opts: Validate and format switches.
//
// # Outputs
//
//   - Result: The span the edit now occupies.
//   - error: ErrInvalidRange or a store error (nothing written), or a
//     *ValidationError after the edit was reverted.
func (a *Applier) ApplyRangeEdit(ctx context.Context, doc Handle, rng Range, newText string, opts Options) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, span := a.tracer.Start(ctx, "document.apply", trace.WithAttributes(
		attribute.Int("document.handle", int(doc)),
		attribute.String("document.edit", "range"),
		attribute.Int("document.start_line", rng.Start.Line),
		attribute.Int("document.end_line", rng.End.Line),
	))
	defer span.End()

	count, err := a.store.LineCount(doc)
	if err != nil {
		return a.fail(ctx, span, "range", fmt.Errorf("reading document %d: %w", doc, err))
	}
	if rng.Start.Line < 0 || rng.End.Line >= count || rng.Start.Line > rng.End.Line {
		return a.fail(ctx, span, "range", fmt.Errorf("%w: lines %d..%d of %d", ErrInvalidRange, rng.Start.Line, rng.End.Line, count))
	}

	prev, err := a.store.GetLines(doc, rng.Start.Line, rng.End.Line+1)
	if err != nil {
		return a.fail(ctx, span, "range", fmt.Errorf("reading document %d: %w", doc, err))
	}

	first, last := prev[0], prev[len(prev)-1]
	startCol := clampCol(rng.Start.Col, first)
	endCol := clampCol(rng.End.Col, last)
	if rng.Start.Line == rng.End.Line && startCol > endCol {
		return a.fail(ctx, span, "range", fmt.Errorf("%w: columns %d..%d", ErrInvalidRange, startCol, endCol))
	}

	next := strings.Split(first[:startCol]+newText+last[endCol:], "\n")

	return a.apply(ctx, span, edit{
		doc:   doc,
		kind:  "range",
		start: rng.Start.Line,
		end:   rng.End.Line + 1,
		prev:  prev,
		next:  next,
	}, opts)
}

// ApplyFullReplacement replaces the whole content of doc with newText.
//
// # Description
//
// Same contract as ApplyRangeEdit over the entire document. The history
// entry records every prior line. A trailing newline on newText is treated
// as the end of the last line.
func (a *Applier) ApplyFullReplacement(ctx context.Context, doc Handle, newText string, opts Options) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, span := a.tracer.Start(ctx, "document.apply", trace.WithAttributes(
		attribute.Int("document.handle", int(doc)),
		attribute.String("document.edit", "full"),
	))
	defer span.End()

	prev, err := a.store.GetLines(doc, 0, -1)
	if err != nil {
		return a.fail(ctx, span, "full", fmt.Errorf("reading document %d: %w", doc, err))
	}

	return a.apply(ctx, span, edit{
		doc:   doc,
		kind:  "full",
		whole: true,
		start: 0,
		end:   -1,
		prev:  prev,
		next:  SplitText(newText),
	}, opts)
}

type edit struct {
	doc   Handle
	kind  string
	whole bool
	start int
	end   int
	prev  []string
	next  []string
}

// apply writes e, validates, formats, and records history. Caller holds mu.
func (a *Applier) apply(ctx context.Context, span trace.Span, e edit, opts Options) (Result, error) {
	logger := logging.WithTrace(ctx, a.logger).With("doc", int(e.doc), "edit", e.kind)

	if err := a.store.SetLines(e.doc, e.start, e.end, e.next); err != nil {
		return a.fail(ctx, span, e.kind, fmt.Errorf("writing document %d: %w", e.doc, err))
	}

	writtenEnd := e.start + len(e.next)
	if e.whole {
		writtenEnd = -1
	}

	if opts.Validate && a.validator != nil {
		if err := a.validate(ctx, e.doc); err != nil {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				logger.Warn("validator unavailable, keeping edit", "error", err)
			} else {
				span.SetAttributes(attribute.Int("document.error_line", ve.Line))
				span.SetStatus(codes.Error, ve.Error())
				recordEdit(ctx, e.kind, "invalid")

				if rerr := a.store.SetLines(e.doc, e.start, writtenEnd, e.prev); rerr != nil {
					logger.Error("failed to revert invalid edit", "error", rerr)
					return Result{}, fmt.Errorf("%w (revert failed: %v)", ve, rerr)
				}
				logger.Info("edit reverted after validation failure",
					"line", ve.Line,
					"snippet", ve.Snippet)
				return Result{}, ve
			}
		}
	}

	entry := Entry{
		Doc:           e.doc,
		Whole:         e.whole,
		StartLine:     e.start,
		LineCount:     len(e.next),
		PreviousLines: e.prev,
		Timestamp:     time.Now(),
	}
	result := Result{Doc: e.doc, StartLine: e.start, EndLine: e.start + len(e.next)}

	if opts.Format && a.formatter != nil {
		delta, err := a.format(ctx, e, writtenEnd)
		if err != nil {
			recordFormatterFailure(ctx)
			logger.Warn("formatter failed, keeping unformatted edit", "error", err)
		} else {
			result.Formatted = true
			entry.LineCount += delta
			result.EndLine += delta
		}
	}

	if a.history.Push(entry) {
		recordEviction(ctx)
		logger.Debug("history full, oldest entry evicted", "capacity", a.history.Cap())
	}

	if e.whole {
		if n, err := a.store.LineCount(e.doc); err == nil {
			result.EndLine = n
		}
	}

	recordEdit(ctx, e.kind, "applied")
	span.SetStatus(codes.Ok, "")
	logger.Debug("edit applied", "start", result.StartLine, "end", result.EndLine)
	return result, nil
}

func (a *Applier) validate(ctx context.Context, doc Handle) error {
	name, _ := a.store.Name(doc)
	text, err := Text(a.store, doc)
	if err != nil {
		return err
	}

	err = a.validator.Validate(ctx, name, text)
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Path == "" {
		ve.Path = name
	}
	return err
}

// format runs the formatter over the written span and returns how many
// lines it added (negative if it removed lines).
func (a *Applier) format(ctx context.Context, e edit, writtenEnd int) (int, error) {
	before, err := a.store.LineCount(e.doc)
	if err != nil {
		return 0, err
	}

	if e.whole {
		err = a.formatter.FormatDocument(ctx, e.doc)
	} else {
		err = a.formatter.FormatRange(ctx, e.doc, e.start, writtenEnd)
	}
	if err != nil {
		return 0, err
	}

	after, err := a.store.LineCount(e.doc)
	if err != nil {
		return 0, err
	}
	return after - before, nil
}

func (a *Applier) fail(ctx context.Context, span trace.Span, kind string, err error) (Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	recordEdit(ctx, kind, "error")
	return Result{}, err
}

// Rollback undoes up to steps edits from the shared history, most recent
// first, across all documents.
//
// Entries for documents that have been closed are dropped without counting
// as a step.
//
// # Outputs
//
//   - int: Entries replayed.
//   - error: The first replay failure. Entries before it stay undone.
func (a *Applier) Rollback(ctx context.Context, steps int) (int, error) {
	return a.rollback(ctx, steps, "all", func() (Entry, bool) {
		return a.history.Pop()
	})
}

// RollbackDocument undoes up to steps edits made to doc, leaving other
// documents' history in place.
func (a *Applier) RollbackDocument(ctx context.Context, doc Handle, steps int) (int, error) {
	return a.rollback(ctx, steps, "document", func() (Entry, bool) {
		return a.history.PopDocument(doc)
	})
}

func (a *Applier) rollback(ctx context.Context, steps int, scope string, pop func() (Entry, bool)) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, span := a.tracer.Start(ctx, "document.rollback", trace.WithAttributes(
		attribute.Int("document.steps", steps),
		attribute.String("document.scope", scope),
	))
	defer span.End()

	logger := logging.WithTrace(ctx, a.logger)

	done := 0
	for done < steps {
		e, ok := pop()
		if !ok {
			break
		}
		if err := a.replay(e); err != nil {
			if errors.Is(err, ErrUnknownDocument) {
				logger.Debug("skipping history entry for closed document", "doc", e.Doc)
				continue
			}
			recordRollback(ctx, done, scope)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return done, fmt.Errorf("rollback step %d (document %d): %w", done+1, e.Doc, err)
		}
		done++
	}

	recordRollback(ctx, done, scope)
	span.SetAttributes(attribute.Int("document.replayed", done))
	logger.Debug("rollback complete", "scope", scope, "requested", steps, "replayed", done)
	return done, nil
}

func (a *Applier) replay(e Entry) error {
	if e.Whole {
		return a.store.SetLines(e.Doc, 0, -1, e.PreviousLines)
	}
	return a.store.SetLines(e.Doc, e.StartLine, e.StartLine+e.LineCount, e.PreviousLines)
}

func clampCol(col int, line string) int {
	if col < 0 || col > len(line) {
		return len(line)
	}
	return col
}
