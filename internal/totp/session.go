// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package totp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SetupSessionTTL is how long a staged (unconfirmed) TOTP setup survives
// before the sweeper reclaims it.
const SetupSessionTTL = 15 * time.Minute

// SetupSession is the staging area between setup() and confirm(): the
// generated secret and QR code live only in memory until confirmed.
type SetupSession struct {
	ID        string
	Username  string
	Secret    string
	QRCodePNG []byte
	CreatedAt time.Time
}

// SessionManager holds at most one in-flight setup session per username.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]SetupSession // keyed by username
}

// NewSessionManager returns an empty setup-session store.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]SetupSession)}
}

// Stage records a freshly generated setup session, replacing any prior
// unconfirmed session for the same username.
func (m *SessionManager) Stage(username, secret string, qrPNG []byte) SetupSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := SetupSession{
		ID:        uuid.NewString(),
		Username:  username,
		Secret:    secret,
		QRCodePNG: qrPNG,
		CreatedAt: time.Now(),
	}
	m.sessions[username] = s
	return s
}

// Get returns the staged session for username, if one exists and hasn't
// expired.
func (m *SessionManager) Get(username string) (SetupSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[username]
	if !ok {
		return SetupSession{}, false
	}
	if time.Since(s.CreatedAt) > SetupSessionTTL {
		delete(m.sessions, username)
		return SetupSession{}, false
	}
	return s, true
}

// Clear removes the staged session for username (on confirm or cancel).
func (m *SessionManager) Clear(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, username)
}

// Sweep removes every session older than SetupSessionTTL and returns how
// many were evicted; intended to run on a ~60s cadence.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, s := range m.sessions {
		if time.Since(s.CreatedAt) > SetupSessionTTL {
			delete(m.sessions, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of currently staged sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
