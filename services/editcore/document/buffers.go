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
	"fmt"
	"sync"
)

// Buffers is an in-memory Store.
//
// # Thread Safety
//
// Safe for concurrent use.
type Buffers struct {
	mu   sync.RWMutex
	next Handle
	docs map[Handle]*buffer
}

type buffer struct {
	name  string
	lines []string
}

// NewBuffers creates an empty buffer store.
func NewBuffers() *Buffers {
	return &Buffers{next: 1, docs: make(map[Handle]*buffer)}
}

// Open creates a document bound to name holding content.
func (b *Buffers) Open(name, content string) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.next
	b.next++
	b.docs[h] = &buffer{name: name, lines: SplitText(content)}
	return h
}

// Close forgets doc.
func (b *Buffers) Close(doc Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.docs, doc)
}

// LineCount implements Store.
func (b *Buffers) LineCount(doc Handle) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	buf, ok := b.docs[doc]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownDocument, doc)
	}
	return len(buf.lines), nil
}

// GetLines implements Store.
func (b *Buffers) GetLines(doc Handle, start, end int) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	buf, ok := b.docs[doc]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDocument, doc)
	}
	start, end, err := bounds(len(buf.lines), start, end)
	if err != nil {
		return nil, err
	}

	out := make([]string, end-start)
	copy(out, buf.lines[start:end])
	return out, nil
}

// SetLines implements Store.
func (b *Buffers) SetLines(doc Handle, start, end int, lines []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.docs[doc]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDocument, doc)
	}
	start, end, err := bounds(len(buf.lines), start, end)
	if err != nil {
		return err
	}

	updated := make([]string, 0, len(buf.lines)-(end-start)+len(lines))
	updated = append(updated, buf.lines[:start]...)
	updated = append(updated, lines...)
	updated = append(updated, buf.lines[end:]...)
	if len(updated) == 0 {
		updated = []string{""}
	}
	buf.lines = updated
	return nil
}

// Name implements Store.
func (b *Buffers) Name(doc Handle) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	buf, ok := b.docs[doc]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownDocument, doc)
	}
	return buf.name, nil
}

// BindName implements Store.
func (b *Buffers) BindName(doc Handle, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.docs[doc]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDocument, doc)
	}
	buf.name = path
	return nil
}

// Lookup implements Store. If several documents share a name the lowest
// handle wins.
func (b *Buffers) Lookup(path string) (Handle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var found Handle
	for h, buf := range b.docs {
		if buf.name == path && (found == 0 || h < found) {
			found = h
		}
	}
	return found, found != 0
}

func bounds(n, start, end int) (int, int, error) {
	if end == -1 {
		end = n
	}
	if start < 0 || end > n || start > end {
		return 0, 0, fmt.Errorf("%w: [%d,%d) of %d lines", ErrInvalidRange, start, end, n)
	}
	return start, end, nil
}

var _ Store = (*Buffers)(nil)
