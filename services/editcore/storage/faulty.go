// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"errors"
	"sync"
)

// ErrInjected is the default error returned by Faulty.
var ErrInjected = errors.New("injected failure")

// Faulty wraps a Storage and fails selected calls.
//
// Used by tests to exercise rollback paths. Failures are keyed by operation
// name ("read", "write", "delete", "move", "ensure_parent") and path, and
// stay armed until cleared.
type Faulty struct {
	Storage

	mu       sync.Mutex
	failures map[faultKey]error
	calls    []string
}

type faultKey struct {
	op   string
	path string
}

// NewFaulty wraps inner.
func NewFaulty(inner Storage) *Faulty {
	return &Faulty{Storage: inner, failures: make(map[faultKey]error)}
}

// FailOn arms a failure for op on path. A nil err uses ErrInjected.
func (f *Faulty) FailOn(op, path string, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[faultKey{op, path}] = err
}

// Clear disarms every failure.
func (f *Faulty) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[faultKey]error)
}

// Calls returns the "op path" log of every call made so far.
func (f *Faulty) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Faulty) check(op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+path)
	if err, ok := f.failures[faultKey{op, path}]; ok {
		return wrap(op, path, err)
	}
	return nil
}

// Read implements Storage.
func (f *Faulty) Read(path string) (string, error) {
	if err := f.check("read", path); err != nil {
		return "", err
	}
	return f.Storage.Read(path)
}

// Write implements Storage.
func (f *Faulty) Write(path, content string) error {
	if err := f.check("write", path); err != nil {
		return err
	}
	return f.Storage.Write(path, content)
}

// Delete implements Storage.
func (f *Faulty) Delete(path string) error {
	if err := f.check("delete", path); err != nil {
		return err
	}
	return f.Storage.Delete(path)
}

// Move implements Storage.
func (f *Faulty) Move(path, newPath string) error {
	if err := f.check("move", path); err != nil {
		return err
	}
	return f.Storage.Move(path, newPath)
}

// EnsureParent implements Storage.
func (f *Faulty) EnsureParent(path string) error {
	if err := f.check("ensure_parent", path); err != nil {
		return err
	}
	return f.Storage.EnsureParent(path)
}

var _ Storage = (*Faulty)(nil)
