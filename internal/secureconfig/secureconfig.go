// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package secureconfig persists the control plane's SECURE_COOKIES flag
// (spec.md §6, §4.8), which drives the session cookie's Secure/SameSite
// attributes. It follows the same write-temp-then-rename JSON persistence
// internal/config.Store and internal/mail.Store use.
package secureconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Domain is the on-disk shape of the secure-config file.
type Domain struct {
	SecureCookies bool `json:"SECURE_COOKIES"`
}

// Store loads and persists Domain, and satisfies internal/session's
// SecureConfig interface directly.
type Store struct {
	path string

	mu      sync.RWMutex
	current Domain
	modTime time.Time
}

// NewStore loads path, creating it with SecureCookies=false if absent.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDomain(path, Domain{}); err != nil {
			return nil, fmt.Errorf("creating default secure config: %w", err)
		}
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the current Domain.
func (s *Store) Get() Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SecureCookies satisfies session.SecureConfig.
func (s *Store) SecureCookies() bool {
	return s.Get().SecureCookies
}

// Save persists d and updates the in-memory copy.
func (s *Store) Save(d Domain) error {
	if err := writeDomain(s.path, d); err != nil {
		return err
	}
	return s.reload()
}

// Refresh re-stats the backing file and reloads it if the modification time
// has advanced since the last load. Call this from a cadenced sweeper.
func (s *Store) Refresh() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat secure config: %w", err)
	}
	s.mu.RLock()
	stale := info.ModTime().After(s.modTime)
	s.mu.RUnlock()
	if !stale {
		return nil
	}
	return s.reload()
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading secure config: %w", err)
	}
	var d Domain
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("parsing secure config: %w", err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat secure config: %w", err)
	}
	s.mu.Lock()
	s.current = d
	s.modTime = info.ModTime()
	s.mu.Unlock()
	return nil
}

func writeDomain(path string, d Domain) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling secure config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp secure config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming secure config: %w", err)
	}
	return nil
}
