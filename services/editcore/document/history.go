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
	"sync"
	"time"
)

// DefaultHistoryCapacity is the ring size used when none is configured.
const DefaultHistoryCapacity = 10

// Entry is one completed edit, recorded so it can be undone.
type Entry struct {
	// Doc is the edited document.
	Doc Handle

	// Whole marks a full-document replacement. StartLine and LineCount are
	// ignored when set.
	Whole bool

	// StartLine is the first line the edit wrote.
	StartLine int

	// LineCount is how many lines the edit left in place of PreviousLines.
	LineCount int

	// PreviousLines is the pre-image of the edited lines.
	PreviousLines []string

	// Timestamp is when the edit was recorded.
	Timestamp time.Time
}

// History is a fixed-capacity ring of edits, most recent first.
//
// Entries for all documents share one timeline. Pushing beyond capacity
// evicts the oldest entry.
//
// # Thread Safety
//
// Safe for concurrent use.
type History struct {
	mu       sync.Mutex
	entries  []Entry // oldest first
	capacity int
}

// NewHistory creates a ring holding at most capacity entries.
// capacity <= 0 uses DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{capacity: capacity, entries: make([]Entry, 0, capacity)}
}

// Push records e and reports whether the oldest entry was evicted.
func (h *History) Push(e Entry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	evicted := false
	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
		evicted = true
	}
	h.entries = append(h.entries, e)
	return evicted
}

// Pop removes and returns the most recent entry.
func (h *History) Pop() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == 0 {
		return Entry{}, false
	}
	last := len(h.entries) - 1
	e := h.entries[last]
	h.entries = h.entries[:last]
	return e, true
}

// PopDocument removes and returns the most recent entry for doc, leaving
// other documents' entries in place.
func (h *History) PopDocument(doc Handle) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Doc == doc {
			e := h.entries[i]
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns a copy of the ring, most recent first.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Entry, len(h.entries))
	for i, e := range h.entries {
		out[len(h.entries)-1-i] = e
	}
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return h.capacity
}

// Clear drops every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
}
