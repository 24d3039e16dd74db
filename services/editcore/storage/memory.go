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
	"sort"
	"sync"
)

// Memory is an in-process Storage backed by a map.
//
// Parents are implicit, so EnsureParent always succeeds.
type Memory struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewMemory creates an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]string)}
}

// Read returns the content at path.
func (m *Memory) Read(path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.files[path]
	if !ok {
		return "", wrap("read", path, ErrNotFound)
	}
	return content, nil
}

// Write stores content at path.
func (m *Memory) Write(path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[path] = content
	return nil
}

// Delete removes path.
func (m *Memory) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[path]; !ok {
		return wrap("delete", path, ErrNotFound)
	}
	delete(m.files, path)
	return nil
}

// Move renames path to newPath, overwriting any content at newPath.
func (m *Memory) Move(path, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.files[path]
	if !ok {
		return wrap("move", path, ErrNotFound)
	}
	delete(m.files, path)
	m.files[newPath] = content
	return nil
}

// EnsureParent is a no-op.
func (m *Memory) EnsureParent(path string) error {
	return nil
}

// Exists reports whether path has content.
func (m *Memory) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}

// Paths returns all stored paths in sorted order.
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

var (
	_ Storage = (*Memory)(nil)
	_ Storage = (*FS)(nil)
)
