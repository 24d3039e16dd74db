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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS is a Storage rooted at a directory on the local filesystem.
//
// # Description
//
// All paths must be absolute and inside the root. Writes go through a
// temporary file in the same directory followed by a rename, so a reader
// never observes a half-written file. Existing file modes are preserved.
type FS struct {
	root     string
	fileMode os.FileMode
	dirMode  os.FileMode
}

// NewFS creates a filesystem storage rooted at root.
//
// # Inputs
//
//   - root: Absolute path to an existing directory.
//
// # Outputs
//
//   - *FS: Ready-to-use storage.
//   - error: Non-nil if root is relative, missing, or not a directory.
func NewFS(root string) (*FS, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("root must be absolute: %s", root)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	return &FS{
		root:     filepath.Clean(root),
		fileMode: 0644,
		dirMode:  0755,
	}, nil
}

// Root returns the storage root directory.
func (f *FS) Root() string {
	return f.root
}

// Read returns the content of path.
func (f *FS) Read(path string) (string, error) {
	if err := f.check(path); err != nil {
		return "", wrap("read", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", wrap("read", path, ErrNotFound)
		}
		return "", wrap("read", path, err)
	}
	return string(data), nil
}

// Write atomically replaces the content of path.
func (f *FS) Write(path, content string) error {
	if err := f.check(path); err != nil {
		return wrap("write", path, err)
	}

	mode := f.fileMode
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return wrap("write", path, fmt.Errorf("is a directory"))
		}
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".editcore-*")
	if err != nil {
		return wrap("write", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrap("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return wrap("write", path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return wrap("write", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return wrap("write", path, err)
	}
	return nil
}

// Delete removes path.
func (f *FS) Delete(path string) error {
	if err := f.check(path); err != nil {
		return wrap("delete", path, err)
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return wrap("delete", path, ErrNotFound)
		}
		return wrap("delete", path, err)
	}
	return nil
}

// Move renames path to newPath, creating the destination parent if needed.
func (f *FS) Move(path, newPath string) error {
	if err := f.check(path); err != nil {
		return wrap("move", path, err)
	}
	if err := f.check(newPath); err != nil {
		return wrap("move", newPath, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return wrap("move", path, ErrNotFound)
	}
	if err := f.EnsureParent(newPath); err != nil {
		return err
	}
	if err := os.Rename(path, newPath); err != nil {
		return wrap("move", path, err)
	}
	return nil
}

// EnsureParent creates the parent directory of path.
func (f *FS) EnsureParent(path string) error {
	if err := f.check(path); err != nil {
		return wrap("ensure_parent", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), f.dirMode); err != nil {
		return wrap("ensure_parent", path, err)
	}
	return nil
}

// check rejects relative paths and paths outside the root.
func (f *FS) check(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute")
	}
	rel, err := filepath.Rel(f.root, filepath.Clean(path))
	if err != nil {
		return ErrOutsideRoot
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrOutsideRoot
	}
	return nil
}
