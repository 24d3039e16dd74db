// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package operation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrMalformed indicates an operation is missing a required field or
	// carries an invalid value. Every MalformedError wraps it.
	ErrMalformed = errors.New("malformed operation")

	// ErrNoSource indicates Resolve was called on an empty content source.
	ErrNoSource = errors.New("operation has no content source")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// MalformedError describes why an operation was rejected.
type MalformedError struct {
	// Field is the offending field: "kind", "path", "new_path" or "source".
	Field string

	// Reason is a short human-readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMalformed, e.Field, e.Reason)
}

// Unwrap returns ErrMalformed so errors.Is works.
func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}

func malformed(field, reason string) error {
	return &MalformedError{Field: field, Reason: reason}
}
