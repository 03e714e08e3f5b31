package totp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionManager_StageAndGet(t *testing.T) {
	m := NewSessionManager()
	m.Stage("admin_shield", "SECRET", []byte("png"))

	s, ok := m.Get("admin_shield")
	require.True(t, ok)
	require.Equal(t, "SECRET", s.Secret)
}

func TestSessionManager_ClearRemovesSession(t *testing.T) {
	m := NewSessionManager()
	m.Stage("admin_shield", "SECRET", []byte("png"))
	m.Clear("admin_shield")

	_, ok := m.Get("admin_shield")
	require.False(t, ok)
}

func TestSessionManager_ExpiredSessionNotReturned(t *testing.T) {
	m := NewSessionManager()
	m.mu.Lock()
	m.sessions["admin_shield"] = SetupSession{
		ID:        "x",
		Username:  "admin_shield",
		Secret:    "SECRET",
		CreatedAt: time.Now().Add(-SetupSessionTTL - time.Minute),
	}
	m.mu.Unlock()

	_, ok := m.Get("admin_shield")
	require.False(t, ok)
}

func TestSessionManager_SweepEvictsExpired(t *testing.T) {
	m := NewSessionManager()
	m.mu.Lock()
	m.sessions["stale"] = SetupSession{Username: "stale", CreatedAt: time.Now().Add(-SetupSessionTTL - time.Minute)}
	m.mu.Unlock()
	m.Stage("fresh", "SECRET", nil)

	removed := m.Sweep()
	require.Equal(t, 1, removed)
	require.Equal(t, 1, m.Len())
}
