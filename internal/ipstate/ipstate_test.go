package ipstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clockFrom(start time.Time) func() time.Time {
	cur := start
	return func() time.Time { return cur }
}

func TestManager_UpdateCountsErrorsWithinWindow(t *testing.T) {
	now := time.Now()
	clock := clockFrom(now)
	m := New(Options{TimeFrame: time.Minute, AllowedCodes: map[int]bool{200: true}, Now: clock})

	errs, banned := m.Update("203.0.113.1", 404)
	require.Equal(t, 1, errs)
	require.False(t, banned)

	errs, _ = m.Update("203.0.113.1", 500)
	require.Equal(t, 2, errs)

	errs, _ = m.Update("203.0.113.1", 200)
	require.Equal(t, 2, errs, "allowed code must not increment the error count")
}

func TestManager_AllowedCodesNeverCount(t *testing.T) {
	m := New(Options{TimeFrame: time.Minute, AllowedCodes: map[int]bool{200: true, 304: true}})

	errs, _ := m.Update("203.0.113.2", 200)
	require.Equal(t, 0, errs)
	errs, _ = m.Update("203.0.113.2", 304)
	require.Equal(t, 0, errs)
	errs, _ = m.Update("203.0.113.2", 403)
	require.Equal(t, 1, errs)
}

func TestManager_WindowResetsAfterTimeFrame(t *testing.T) {
	now := time.Now()
	cur := now
	clock := func() time.Time { return cur }
	m := New(Options{TimeFrame: 10 * time.Second, Now: clock})

	errs, _ := m.Update("203.0.113.3", 500)
	require.Equal(t, 1, errs)

	cur = cur.Add(5 * time.Second)
	errs, _ = m.Update("203.0.113.3", 500)
	require.Equal(t, 2, errs, "still inside the window")

	cur = cur.Add(11 * time.Second)
	errs, _ = m.Update("203.0.113.3", 500)
	require.Equal(t, 1, errs, "window must have reset")
}

func TestManager_MarkBannedAndForget(t *testing.T) {
	m := New(Options{TimeFrame: time.Minute})
	_, _ = m.Update("203.0.113.4", 500)

	m.MarkBanned("203.0.113.4")
	s, ok := m.Snapshot("203.0.113.4")
	require.True(t, ok)
	require.True(t, s.Banned)

	m.Forget("203.0.113.4")
	_, ok = m.Snapshot("203.0.113.4")
	require.False(t, ok)
}

func TestManager_ForgetThenUpdateStartsCleanWindow(t *testing.T) {
	m := New(Options{TimeFrame: time.Minute})
	errs, _ := m.Update("203.0.113.5", 500)
	require.Equal(t, 1, errs)

	m.MarkBanned("203.0.113.5")
	m.Forget("203.0.113.5")

	errs, banned := m.Update("203.0.113.5", 500)
	require.Equal(t, 1, errs)
	require.False(t, banned)
}

func TestManager_EmergencyEvictionOnOverflow(t *testing.T) {
	now := time.Now()
	cur := now
	clock := func() time.Time { return cur }
	m := New(Options{MaxEntries: 10, TimeFrame: time.Minute, Now: clock})

	for i := 0; i < 10; i++ {
		cur = cur.Add(time.Second)
		_, _ = m.Update(ipFor(i), 500)
	}
	require.Equal(t, 10, m.Len())

	// One more insertion over the cap must trigger eviction of the oldest
	// last_seen entries (20%) before adding the new one.
	cur = cur.Add(time.Second)
	_, _ = m.Update(ipFor(10), 500)

	require.LessOrEqual(t, m.Len(), 10)
	// The very first IP inserted (oldest last_seen) must have been evicted.
	_, ok := m.Snapshot(ipFor(0))
	require.False(t, ok)
	// The newest entry must be present.
	_, ok = m.Snapshot(ipFor(10))
	require.True(t, ok)
}

func ipFor(i int) string {
	return "10.0.0." + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func TestManager_SweepRemovesInactiveEntries(t *testing.T) {
	now := time.Now()
	cur := now
	clock := func() time.Time { return cur }
	m := New(Options{TimeFrame: time.Minute, InactivityThreshold: 30 * time.Second, Now: clock})

	_, _ = m.Update("203.0.113.10", 500)

	cur = cur.Add(40 * time.Second)
	removed := m.Sweep()
	require.Equal(t, 1, removed)
	require.Equal(t, 0, m.Len())
}

func TestManager_SweepRemovesOldCleanEntries(t *testing.T) {
	now := time.Now()
	cur := now
	clock := func() time.Time { return cur }
	m := New(Options{TimeFrame: 10 * time.Second, AllowedCodes: map[int]bool{200: true}, Now: clock})

	// A clean (never-erroring, allowed-code-only) observation.
	_, _ = m.Update("203.0.113.11", 200)

	cur = cur.Add(25 * time.Second) // > 2*TimeFrame
	removed := m.Sweep()
	require.Equal(t, 1, removed)
}

func TestManager_SweepKeepsActiveDirtyEntries(t *testing.T) {
	now := time.Now()
	cur := now
	clock := func() time.Time { return cur }
	m := New(Options{TimeFrame: time.Minute, InactivityThreshold: time.Hour, Now: clock})

	_, _ = m.Update("203.0.113.12", 500)

	cur = cur.Add(5 * time.Second)
	removed := m.Sweep()
	require.Equal(t, 0, removed)
	require.Equal(t, 1, m.Len())
}

func TestManager_TopOffenders(t *testing.T) {
	m := New(Options{TimeFrame: time.Minute})

	_, _ = m.Update("203.0.113.20", 500)

	_, _ = m.Update("203.0.113.21", 500)
	_, _ = m.Update("203.0.113.21", 500)
	_, _ = m.Update("203.0.113.21", 500)

	_, _ = m.Update("203.0.113.22", 500)
	_, _ = m.Update("203.0.113.22", 500)

	top := m.TopOffenders(2)
	require.Len(t, top, 2)
	require.Equal(t, "203.0.113.21", top[0].IP)
	require.Equal(t, 3, top[0].Errors)
	require.Equal(t, "203.0.113.22", top[1].IP)
}

func TestManager_TopOffendersCapsAtAvailable(t *testing.T) {
	m := New(Options{TimeFrame: time.Minute})
	_, _ = m.Update("203.0.113.30", 500)

	top := m.TopOffenders(10)
	require.Len(t, top, 1)
}
