// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the edit engine over HTTP.
//
// Batches are submitted as raw operation text, the same input the CLI and
// the inbox accept. Requests are serialized; the engine never runs two
// transactions at once.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/editcore/services/editcore/ingest"
	"github.com/AleutianAI/editcore/services/editcore/operation"
	"github.com/AleutianAI/editcore/services/editcore/transaction"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Error codes.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidFormat      = "INVALID_FORMAT"
	CodeUnparsable         = "UNPARSABLE_INPUT"
	CodeNoOperations       = "NO_OPERATIONS"
	CodeMalformed          = "MALFORMED_OPERATION"
	CodeTransactionActive  = "TRANSACTION_ACTIVE"
	CodeCommitFailed       = "COMMIT_FAILED"
	CodeRollbackIncomplete = "ROLLBACK_INCOMPLETE"
	CodeJournalDisabled    = "JOURNAL_DISABLED"
	CodeUnavailable        = "UNAVAILABLE"
	CodeInternal           = "INTERNAL"
)

// Handlers contains the HTTP handlers for the edit engine.
type Handlers struct {
	manager  *transaction.Manager
	ingestor *ingest.Ingestor
	logger   *slog.Logger
	root     string

	// mu serializes batches from concurrent requests.
	mu sync.Mutex
}

// NewHandlers creates handlers over manager.
func NewHandlers(manager *transaction.Manager, ingestor *ingest.Ingestor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if ingestor == nil {
		ingestor = ingest.New(logger)
	}
	return &Handlers{
		manager:  manager,
		ingestor: ingestor,
		logger:   logger.With("component", "api.Handlers"),
		root:     manager.Config().Root,
	}
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: ServiceVersion,
		Active:  h.manager.IsActive(),
		Journal: h.manager.JournalEnabled(),
	})
}

// HandlePreview handles POST /v1/edits/preview.
//
// Description:
//
//	Parses the batch, queues it in a transaction, returns the per-operation
//	diffs and aborts. Nothing is written.
//
// Response:
//
//	200 OK: PreviewResponse
//	400 Bad Request: Invalid body or format
//	409 Conflict: Another transaction is active
//	422 Unprocessable Entity: Unparsable input or malformed operation
func (h *Handlers) HandlePreview(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePreview")

	tx, ok := h.stage(c, logger)
	if !ok {
		return
	}
	defer h.mu.Unlock()
	defer tx.Abort(context.WithoutCancel(c.Request.Context()))

	changes, err := tx.Preview(c.Request.Context())
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	resp := PreviewResponse{Changes: make([]ChangeDTO, 0, len(changes))}
	for _, ch := range changes {
		dto := ChangeDTO{
			Index:     ch.Index,
			Operation: h.operationDTO(ch.Op),
			Diff:      ch.Diff,
			Added:     ch.Added,
			Removed:   ch.Removed,
		}
		if ch.Err != nil {
			dto.Error = ch.Err.Error()
		}
		resp.Changes = append(resp.Changes, dto)
	}
	c.JSON(http.StatusOK, resp)
}

// HandleApply handles POST /v1/edits/apply.
//
// Description:
//
//	Parses the batch and commits it as one transaction. On failure every
//	touched path is restored and the outcome of each restore is returned.
//
// Response:
//
//	200 OK: ApplyResponse
//	400 Bad Request: Invalid body or format
//	409 Conflict: Commit failed and was rolled back, or another
//	    transaction is active
//	422 Unprocessable Entity: Unparsable input or malformed operation
//	500 Internal Server Error: Rollback incomplete
func (h *Handlers) HandleApply(c *gin.Context) {
	logger := h.requestLogger(c, "HandleApply")

	tx, ok := h.stage(c, logger)
	if !ok {
		return
	}
	defer h.mu.Unlock()

	// A client disconnect must not interrupt a commit halfway.
	result, err := tx.Commit(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	logger.Info("batch committed", "tx_id", result.TxID, "applied", result.Applied)
	c.JSON(http.StatusOK, ApplyResponse{
		TxID:       result.TxID,
		Applied:    result.Applied,
		Paths:      h.relAll(result.Paths),
		DurationMs: result.Duration.Milliseconds(),
	})
}

// HandleRecover handles POST /v1/edits/recover.
func (h *Handlers) HandleRecover(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRecover")

	h.mu.Lock()
	defer h.mu.Unlock()

	report, err := h.manager.Recover(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	resp := RecoverResponse{
		Entries:   report.Entries,
		Completed: report.Completed,
		Restores:  h.restoreDTOs(report.Restores),
		Failed:    report.Failed,
	}
	if resp.Completed == nil {
		resp.Completed = []string{}
	}
	status := http.StatusOK
	if report.Failed > 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, resp)
}

// stage binds the request, parses it and returns an open transaction
// holding the batch. On success h.mu is held and the caller must unlock
// it; on failure the response has been written.
func (h *Handlers) stage(c *gin.Context, logger *slog.Logger) (*transaction.Transaction, bool) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: CodeInvalidRequest})
		return nil, false
	}

	format, err := ingest.ParseFormat(req.Format)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidFormat})
		return nil, false
	}

	ops, err := h.ingestor.Parse(req.Input, format)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: CodeUnparsable})
		return nil, false
	}
	if len(ops) == 0 {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "input contains no operations", Code: CodeNoOperations})
		return nil, false
	}

	h.mu.Lock()
	ctx := c.Request.Context()
	tx, err := h.manager.Begin(ctx)
	if err != nil {
		h.mu.Unlock()
		h.fail(c, logger, err)
		return nil, false
	}
	if n, err := tx.AddAll(ops); err != nil {
		_ = tx.Abort(ctx)
		h.mu.Unlock()
		resp := ErrorResponse{Error: err.Error(), Code: CodeMalformed, FailedIndex: n + 1}
		if n < len(ops) {
			resp.Path = ops[n].Path
		}
		c.JSON(http.StatusUnprocessableEntity, resp)
		return nil, false
	}
	return tx, true
}

// fail maps an engine error to a response.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	var ce *transaction.CommitError
	switch {
	case errors.As(err, &ce):
		resp := ErrorResponse{
			Error:       err.Error(),
			Code:        CodeCommitFailed,
			FailedIndex: ce.Index,
			Path:        h.rel(ce.Path),
			Restores:    h.restoreDTOs(ce.Restores),
		}
		status := http.StatusConflict
		if !ce.RollbackComplete() {
			resp.Code = CodeRollbackIncomplete
			status = http.StatusInternalServerError
			logger.Error("commit failed, rollback incomplete", "error", err)
		} else {
			logger.Warn("commit failed, rolled back", "error", err)
		}
		c.JSON(status, resp)
	case errors.Is(err, transaction.ErrTransactionActive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeTransactionActive})
	case errors.Is(err, transaction.ErrJournalDisabled):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeJournalDisabled})
	case errors.Is(err, transaction.ErrManagerClosed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: CodeUnavailable})
	case errors.Is(err, operation.ErrMalformed):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: CodeMalformed})
	default:
		logger.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeInternal})
	}
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return h.logger.With("request_id", requestID, "handler", handler)
}

func (h *Handlers) operationDTO(op operation.Operation) OperationDTO {
	dto := OperationDTO{
		Kind:        string(op.Kind),
		Path:        h.rel(op.Path),
		Description: op.Description,
	}
	if op.NewPath != "" {
		dto.NewPath = h.rel(op.NewPath)
	}
	return dto
}

func (h *Handlers) restoreDTOs(outcomes []transaction.RestoreOutcome) []RestoreDTO {
	out := make([]RestoreDTO, 0, len(outcomes))
	for _, o := range outcomes {
		dto := RestoreDTO{Path: h.rel(o.Path), Restored: o.Restored}
		if o.Err != nil {
			dto.Error = o.Err.Error()
		}
		out = append(out, dto)
	}
	return out
}

func (h *Handlers) rel(path string) string {
	if h.root == "" || path == "" {
		return path
	}
	if r, err := filepath.Rel(h.root, path); err == nil {
		return r
	}
	return path
}

func (h *Handlers) relAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, h.rel(p))
	}
	return out
}
