// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

// BatchRequest is the body of the preview and apply endpoints.
type BatchRequest struct {
	// Input is the raw operation batch: JSON/YAML records, the FILE:/ACTION:
	// text protocol, or a unified diff.
	Input string `json:"input" binding:"required"`

	// Format is auto, structured, text or diff. Empty means auto.
	Format string `json:"format,omitempty"`
}

// OperationDTO describes one parsed operation.
type OperationDTO struct {
	Kind        string `json:"kind"`
	Path        string `json:"path"`
	NewPath     string `json:"new_path,omitempty"`
	Description string `json:"description,omitempty"`
}

// ChangeDTO is one previewed operation.
type ChangeDTO struct {
	Index     int          `json:"index"`
	Operation OperationDTO `json:"operation"`
	Diff      string       `json:"diff,omitempty"`
	Added     int          `json:"added"`
	Removed   int          `json:"removed"`
	Error     string       `json:"error,omitempty"`
}

// PreviewResponse is returned by POST /v1/edits/preview.
type PreviewResponse struct {
	Changes []ChangeDTO `json:"changes"`
}

// ApplyResponse is returned by a successful POST /v1/edits/apply.
type ApplyResponse struct {
	TxID       string   `json:"tx_id"`
	Applied    int      `json:"applied"`
	Paths      []string `json:"paths"`
	DurationMs int64    `json:"duration_ms"`
}

// RestoreDTO is the outcome of restoring one path during rollback.
type RestoreDTO struct {
	Path     string `json:"path"`
	Restored bool   `json:"restored"`
	Error    string `json:"error,omitempty"`
}

// RecoverResponse is returned by POST /v1/edits/recover.
type RecoverResponse struct {
	Entries   int          `json:"entries"`
	Completed []string     `json:"completed"`
	Restores  []RestoreDTO `json:"restores"`
	Failed    int          `json:"failed"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Active  bool   `json:"transaction_active"`
	Journal bool   `json:"journal"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	// FailedIndex is the 1-based operation that failed, when known.
	FailedIndex int `json:"failed_index,omitempty"`

	// Path is the path of the failed operation, when known.
	Path string `json:"path,omitempty"`

	// Restores lists rollback outcomes after a failed commit.
	Restores []RestoreDTO `json:"restores,omitempty"`
}
