// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGuard/services/guard/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestNew(t *testing.T) {
	t.Run("persistent store requires a path", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})

	t.Run("persistent store opens in a fresh directory", func(t *testing.T) {
		s, err := New(Config{Path: t.TempDir() + "/db"})
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, "audit/evt-1", []byte(`{"id":"evt-1"}`)))

	got, err := s.Load(ctx, "audit/evt-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"id":"evt-1"}`), got)

	t.Run("overwrites on repeated save", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "audit/evt-1", []byte("v2")))
		got, err := s.Load(ctx, "audit/evt-1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("missing key is ErrNotFound", func(t *testing.T) {
		_, err := s.Load(ctx, "audit/absent")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, "recovery/rollback/rbp-1", []byte("snap")))
	require.NoError(t, s.Delete(ctx, "recovery/rollback/rbp-1"))

	_, err := s.Load(ctx, "recovery/rollback/rbp-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	t.Run("deleting a missing key is not an error", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "recovery/rollback/absent"))
	})
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, "recovery/rollback/rbp-1", []byte("a")))
	require.NoError(t, s.Save(ctx, "recovery/rollback/rbp-2", []byte("b")))
	require.NoError(t, s.Save(ctx, "audit/evt-1", []byte("c")))

	keys, err := s.List(ctx, "recovery/rollback/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"recovery/rollback/rbp-1", "recovery/rollback/rbp-2"}, keys)

	t.Run("unmatched prefix returns nothing", func(t *testing.T) {
		keys, err := s.List(ctx, "drift/")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestStore_ContextCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Save(ctx, "k", []byte("v")), context.Canceled)
	_, err := s.Load(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Delete(ctx, "k"), context.Canceled)
	_, err = s.List(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
