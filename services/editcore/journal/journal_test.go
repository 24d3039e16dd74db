// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/editcore/services/editcore/backup"
)

func openInMemory(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// TestRecordComplete verifies an entry is pending until completed.
func TestRecordComplete(t *testing.T) {
	j := openInMemory(t)

	entry := Entry{
		TxID:       "tx-1",
		StartedAt:  time.Now(),
		Operations: []string{"modify /w/a.txt"},
		Backups: []backup.Backup{
			{Path: "/w/a.txt", Existed: true, Content: "old"},
			{Path: "/w/b.txt"},
		},
	}
	require.NoError(t, j.Record(entry))

	got, ok, err := j.Get("tx-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tx-1", got.TxID)
	require.Len(t, got.Backups, 2)
	assert.Equal(t, "old", got.Backups[0].Content)
	assert.False(t, got.Backups[1].Existed)

	pending, err := j.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, j.Complete("tx-1"))
	_, ok, err = j.Get("tx-1")
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err = j.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Completing twice is harmless.
	require.NoError(t, j.Complete("tx-1"))
}

// TestPendingOrder verifies oldest entries come first.
func TestPendingOrder(t *testing.T) {
	j := openInMemory(t)
	base := time.Now()

	require.NoError(t, j.Record(Entry{TxID: "b", StartedAt: base.Add(time.Second)}))
	require.NoError(t, j.Record(Entry{TxID: "a", StartedAt: base.Add(2 * time.Second)}))
	require.NoError(t, j.Record(Entry{TxID: "c", StartedAt: base}))

	pending, err := j.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "c", pending[0].TxID)
	assert.Equal(t, "b", pending[1].TxID)
	assert.Equal(t, "a", pending[2].TxID)
}

// TestPersistence verifies entries survive reopen.
func TestPersistence(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, j.Record(Entry{
		TxID:      "crashed",
		StartedAt: time.Now(),
		Backups:   []backup.Backup{{Path: "/w/x", Existed: true, Content: "x"}},
	}))
	require.NoError(t, j.Close())

	j2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer j2.Close()

	pending, err := j2.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "crashed", pending[0].TxID)
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestRecord_RequiresID(t *testing.T) {
	j := openInMemory(t)
	assert.Error(t, j.Record(Entry{}))
}

func TestClosed(t *testing.T) {
	j, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	err = j.Record(Entry{TxID: "late"})
	assert.ErrorIs(t, err, ErrClosed)
}
