package whitelist

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nginxshield/nginxshield/internal/store"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	f, err := os.CreateTemp("", "nginxshield-whitelist-test-*.db")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())

	db, err := store.NewDB(path)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))

	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(path)
	})
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func TestEngine_ContainsIPAndCIDR(t *testing.T) {
	q := store.New(testDB(t))
	ctx := context.Background()

	_, err := q.CreateWhitelistEntry(ctx, store.CreateWhitelistEntryParams{
		EntryType: store.WhitelistEntryIP, Value: "203.0.113.5", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = q.CreateWhitelistEntry(ctx, store.CreateWhitelistEntryParams{
		EntryType: store.WhitelistEntryCIDR, Value: "10.0.0.0/8", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	e, err := New(q, discardLogger())
	require.NoError(t, err)

	require.True(t, e.Contains("203.0.113.5"))
	require.True(t, e.Contains("10.1.2.3"))
	require.False(t, e.Contains("198.51.100.1"))
}

func TestEngine_AddAndRemove(t *testing.T) {
	q := store.New(testDB(t))
	ctx := context.Background()

	e, err := New(q, discardLogger())
	require.NoError(t, err)
	require.False(t, e.Contains("198.51.100.9"))

	_, err = e.Add(ctx, store.WhitelistEntryIP, "198.51.100.9", "trusted uptime monitor")
	require.NoError(t, err)
	require.True(t, e.Contains("198.51.100.9"))

	require.NoError(t, e.Remove(ctx, store.WhitelistEntryIP, "198.51.100.9"))
	require.False(t, e.Contains("198.51.100.9"))
}

func TestEngine_AddRejectsInvalidValue(t *testing.T) {
	q := store.New(testDB(t))
	e, err := New(q, discardLogger())
	require.NoError(t, err)

	_, err = e.Add(context.Background(), store.WhitelistEntryIP, "not-an-ip", "")
	require.Error(t, err)

	_, err = e.Add(context.Background(), store.WhitelistEntryCIDR, "not-a-cidr", "")
	require.Error(t, err)
}

func TestEngine_MalformedCIDRIsSkippedNotFatal(t *testing.T) {
	db := testDB(t)
	q := store.New(db)
	ctx := context.Background()

	// Insert directly, bypassing Engine.Add's validation, to simulate a
	// store row that predates stricter validation.
	_, err := db.ExecContext(ctx,
		`INSERT INTO whitelist_entries (entry_type, value, description, created_at) VALUES (?, ?, ?, ?)`,
		"cidr", "not-a-cidr", "", time.Now().UTC())
	require.NoError(t, err)

	_, err = New(q, discardLogger())
	require.NoError(t, err)
}
