// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/editcore/services/editcore/storage"
)

func TestSnapshot(t *testing.T) {
	mem := storage.NewMemory()
	require.NoError(t, mem.Write("/w/a.txt", "original"))
	s := NewStore(mem, nil)

	t.Run("existing file", func(t *testing.T) {
		b, taken, err := s.Snapshot("/w/a.txt")
		require.NoError(t, err)
		assert.True(t, taken)
		assert.True(t, b.Existed)
		assert.Equal(t, "original", b.Content)
	})

	t.Run("second snapshot keeps the first", func(t *testing.T) {
		require.NoError(t, mem.Write("/w/a.txt", "changed"))
		b, taken, err := s.Snapshot("/w/a.txt")
		require.NoError(t, err)
		assert.False(t, taken)
		assert.Equal(t, "original", b.Content)
	})

	t.Run("absent file", func(t *testing.T) {
		b, taken, err := s.Snapshot("/w/missing.txt")
		require.NoError(t, err)
		assert.True(t, taken)
		assert.False(t, b.Existed)
		assert.Empty(t, b.Content)
	})

	assert.Equal(t, 2, s.Len())
	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "/w/a.txt", all[0].Path)
	assert.Equal(t, "/w/missing.txt", all[1].Path)

	s.Reset()
	assert.Zero(t, s.Len())
	_, ok := s.Get("/w/a.txt")
	assert.False(t, ok)
}

func TestSnapshot_ReadError(t *testing.T) {
	mem := storage.NewMemory()
	require.NoError(t, mem.Write("/w/locked", "secret"))
	faulty := storage.NewFaulty(mem)
	denied := errors.New("permission denied")
	faulty.FailOn("read", "/w/locked", denied)

	s := NewStore(faulty, nil)
	_, _, err := s.Snapshot("/w/locked")
	require.Error(t, err)
	assert.ErrorIs(t, err, denied)
	assert.Zero(t, s.Len())
}

func TestPut_FirstWins(t *testing.T) {
	s := NewStore(storage.NewMemory(), nil)
	s.Put(Backup{Path: "/p", Existed: true, Content: "one"})
	s.Put(Backup{Path: "/p", Existed: true, Content: "two"})

	b, ok := s.Get("/p")
	require.True(t, ok)
	assert.Equal(t, "one", b.Content)
}

func TestRestore(t *testing.T) {
	t.Run("existing content is written back", func(t *testing.T) {
		mem := storage.NewMemory()
		require.NoError(t, mem.Write("/a", "new"))
		require.NoError(t, Restore(mem, Backup{Path: "/a", Existed: true, Content: "old"}))
		got, _ := mem.Read("/a")
		assert.Equal(t, "old", got)
	})

	t.Run("deleted file comes back", func(t *testing.T) {
		mem := storage.NewMemory()
		require.NoError(t, Restore(mem, Backup{Path: "/gone", Existed: true, Content: "back"}))
		assert.True(t, mem.Exists("/gone"))
	})

	t.Run("absent file is removed", func(t *testing.T) {
		mem := storage.NewMemory()
		require.NoError(t, mem.Write("/created", "hi"))
		require.NoError(t, Restore(mem, Absent("/created")))
		assert.False(t, mem.Exists("/created"))
	})

	t.Run("absent and already gone is fine", func(t *testing.T) {
		require.NoError(t, Restore(storage.NewMemory(), Absent("/never")))
	})

	t.Run("write failure is reported", func(t *testing.T) {
		faulty := storage.NewFaulty(storage.NewMemory())
		faulty.FailOn("write", "/a", nil)
		s := NewStore(faulty, nil)
		err := s.Restore(Backup{Path: "/a", Existed: true, Content: "x"})
		assert.ErrorIs(t, err, storage.ErrInjected)
	})
}
