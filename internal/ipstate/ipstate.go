// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ipstate implements the IP State Manager from spec.md §4.3: a
// bounded in-memory map from IP to sliding-window error state, with
// emergency eviction on overflow and a periodic inactivity sweep.
package ipstate

import (
	"sort"
	"sync"
	"time"
)

// State is the per-IP soft state tracked between observations.
type State struct {
	IP            string
	Errors        int
	WindowStart   time.Time
	LastSeen      time.Time
	Banned        bool
	TotalRequests int64
	CreatedAt     time.Time
}

// Options configures a Manager's bounds and sliding-window parameters.
type Options struct {
	MaxEntries          int
	TimeFrame           time.Duration
	AllowedCodes        map[int]bool
	InactivityThreshold time.Duration
	// Now overrides time.Now for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// DefaultMaxEntries is the hard cap on tracked IPs (spec.md §4.3).
const DefaultMaxEntries = 10000

// Manager is the single mutex-guarded owner of all IP soft state.
type Manager struct {
	mu                  sync.Mutex
	entries             map[string]*State
	maxEntries          int
	timeFrame           time.Duration
	allowedCodes        map[int]bool
	inactivityThreshold time.Duration
	now                 func() time.Time
}

// New constructs a Manager from opts, filling in defaults for zero values.
func New(opts Options) *Manager {
	if opts.MaxEntries == 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AllowedCodes == nil {
		opts.AllowedCodes = map[int]bool{}
	}
	return &Manager{
		entries:             make(map[string]*State, opts.MaxEntries),
		maxEntries:          opts.MaxEntries,
		timeFrame:           opts.TimeFrame,
		allowedCodes:        opts.AllowedCodes,
		inactivityThreshold: opts.InactivityThreshold,
		now:                 opts.Now,
	}
}

// Update records one observation for ip returning http code code, advancing
// (or resetting) its sliding window, and returns its current error count and
// ban status. See spec.md §4.1 step 5 for the exact procedure.
func (m *Manager) Update(ip string, code int) (errors int, banned bool) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.entries[ip]
	if !ok {
		if len(m.entries) >= m.maxEntries {
			m.evictOldestLocked()
		}
		s = &State{IP: ip, WindowStart: now, CreatedAt: now}
		m.entries[ip] = s
	}

	if now.Sub(s.WindowStart) > m.timeFrame {
		s.Errors = 0
		s.WindowStart = now
		s.Banned = false
	}

	s.LastSeen = now
	s.TotalRequests++
	if !m.allowedCodes[code] {
		s.Errors++
	}

	return s.Errors, s.Banned
}

// evictOldestLocked drops the oldest 20% of entries by last_seen. Callers
// must hold m.mu.
func (m *Manager) evictOldestLocked() {
	if len(m.entries) == 0 {
		return
	}
	type kv struct {
		ip       string
		lastSeen time.Time
	}
	all := make([]kv, 0, len(m.entries))
	for ip, s := range m.entries {
		all = append(all, kv{ip, s.LastSeen})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastSeen.Before(all[j].lastSeen) })

	evictCount := len(all) / 5
	if evictCount == 0 {
		evictCount = 1
	}
	for i := 0; i < evictCount; i++ {
		delete(m.entries, all[i].ip)
	}
}

// MarkBanned sets banned=true for ip, if present.
func (m *Manager) MarkBanned(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.entries[ip]; ok {
		s.Banned = true
	}
}

// Forget removes ip's entry, called after a successful ban so a future
// observation from the same IP starts a clean window (spec.md §4.5 step 6).
func (m *Manager) Forget(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ip)
}

// Snapshot returns a copy of ip's current state, for callers (e.g. the
// control-plane API) that want a read-only view.
func (m *Manager) Snapshot(ip string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[ip]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// Len returns the number of tracked IPs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep removes entries inactive for more than InactivityThreshold, and
// entries that are clean (errors=0, not banned) and older than 2*TimeFrame,
// processing in batches of 100 with a brief yield between batches so the
// mutex is never held for the whole sweep.
func (m *Manager) Sweep() (removed int) {
	now := m.now()
	const batchSize = 100

	for {
		m.mu.Lock()
		if len(m.entries) == 0 {
			m.mu.Unlock()
			return removed
		}
		batch := make([]string, 0, batchSize)
		for ip, s := range m.entries {
			if m.shouldSweepLocked(s, now) {
				batch = append(batch, ip)
				if len(batch) >= batchSize {
					break
				}
			}
		}
		for _, ip := range batch {
			delete(m.entries, ip)
		}
		remaining := len(m.entries)
		m.mu.Unlock()

		removed += len(batch)
		if len(batch) == 0 || remaining == 0 {
			return removed
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *Manager) shouldSweepLocked(s *State, now time.Time) bool {
	if m.inactivityThreshold > 0 && now.Sub(s.LastSeen) > m.inactivityThreshold {
		return true
	}
	if s.Errors == 0 && !s.Banned && now.Sub(s.CreatedAt) > 2*m.timeFrame {
		return true
	}
	return false
}

// TopOffenders returns the n IPs with the highest error counts, highest first.
func (m *Manager) TopOffenders(n int) []State {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]State, 0, len(m.entries))
	for _, s := range m.entries {
		all = append(all, *s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Errors > all[j].Errors })
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}
