// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the persistent storage port used by the edit engine
// and provides on-disk and in-memory implementations.
//
// # Description
//
// Storage is a simple synchronous key-value view over whole-file content.
// The transaction manager, backup store and journal only ever talk to this
// interface, so tests can substitute Memory or a fault-injecting wrapper.
//
// # Thread Safety
//
// FS and Memory are safe for concurrent use.
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped in *Error) when a path has no content.
var ErrNotFound = errors.New("not found")

// ErrOutsideRoot is returned when a path escapes the storage root.
var ErrOutsideRoot = errors.New("path escapes storage root")

// Storage reads and writes whole-file content by path.
//
// Implementations must return an error satisfying errors.Is(err, ErrNotFound)
// from Read when the path does not exist.
type Storage interface {
	// Read returns the full content at path.
	Read(path string) (string, error)

	// Write replaces the full content at path, creating it if needed.
	Write(path, content string) error

	// Delete removes path.
	Delete(path string) error

	// Move renames path to newPath.
	Move(path, newPath string) error

	// EnsureParent creates the parent container of path if missing.
	EnsureParent(path string) error
}

// Error describes a failed storage call.
type Error struct {
	// Op is the storage operation: read, write, delete, move, ensure_parent.
	Op string

	// Path is the path the operation targeted.
	Path string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the path does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Err: err}
}
