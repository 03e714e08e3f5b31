// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewStore_CreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.local")

	s, err := NewStore(path)
	require.NoError(t, err)

	got := s.Get()
	require.Equal(t, DefaultDomain(), got)
}

func TestStore_SaveAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.local")
	s, err := NewStore(path)
	require.NoError(t, err)

	updated := DefaultDomain()
	updated.MaxRequests = 50
	updated.JailName = "custom-jail"
	require.NoError(t, s.Save(updated))

	require.Equal(t, 50, s.Get().MaxRequests)
	require.Equal(t, "custom-jail", s.Get().JailName)
}

func TestStore_RefreshPicksUpExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.local")
	s, err := NewStore(path)
	require.NoError(t, err)

	// Ensure the mtime check has something to compare against; filesystems
	// with coarse mtime resolution can otherwise miss the change.
	time.Sleep(10 * time.Millisecond)

	edited := DefaultDomain()
	edited.MaxRequests = 99
	// Simulate an external process rewriting the file directly.
	require.NoError(t, writeDomain(path, edited))

	require.NoError(t, s.Refresh())
	require.Equal(t, 99, s.Get().MaxRequests)
}
