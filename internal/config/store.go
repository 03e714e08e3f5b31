// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Domain holds the hot-reloadable settings described by spec.md §6's
// conf.local file. Unlike Process, these are read repeatedly by the log
// pipeline and ban orchestrator and can change without a restart.
type Domain struct {
	LogDir             string `json:"LOG_DIR"`
	IgnoreWhitelist    bool   `json:"IGNORE_WHITELIST"`
	EnableWhitelistLog bool   `json:"ENABLE_WHITELIST_LOG"`
	CodesToAllow       []int  `json:"CODES_TO_ALLOW"`
	MaxRequests        int    `json:"MAX_REQUESTS"`
	TimeFrame          int    `json:"TIME_FRAME"`
	JailName           string `json:"JAIL_NAME"`
}

// DefaultDomain returns the settings written to a freshly created conf.local.
func DefaultDomain() Domain {
	return Domain{
		LogDir:             "/var/log/nginx",
		IgnoreWhitelist:    false,
		EnableWhitelistLog: true,
		CodesToAllow:       []int{200, 301, 302, 304},
		MaxRequests:        20,
		TimeFrame:          60,
		JailName:           "nginx-shield",
	}
}

// Store loads a Domain config from a JSON file on disk and reloads it
// whenever the file's modification time advances, mirroring the teacher's
// mtime-based hot-reload pattern used elsewhere in this codebase.
type Store struct {
	path string

	mu      sync.RWMutex
	current Domain
	modTime time.Time
}

// NewStore loads path, creating it with DefaultDomain() if it does not exist.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDomain(path, DefaultDomain()); err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the currently loaded domain config.
func (s *Store) Get() Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Refresh re-stats the backing file and reloads it if the modification time
// has advanced since the last load. Call this from a cadenced sweeper.
func (s *Store) Refresh() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
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
		return fmt.Errorf("reading config: %w", err)
	}
	var d Domain
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}

	s.mu.Lock()
	s.current = d
	s.modTime = info.ModTime()
	s.mu.Unlock()
	return nil
}

// Save persists d to the backing file atomically (write-temp-then-rename)
// and updates the in-memory copy.
func (s *Store) Save(d Domain) error {
	if err := writeDomain(s.path, d); err != nil {
		return err
	}
	return s.reload()
}

func writeDomain(path string, d Domain) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming config: %w", err)
	}
	return nil
}
