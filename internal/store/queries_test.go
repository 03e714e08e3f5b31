package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nginxshield/nginxshield/internal/logging"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "nginxshield-store-test-*.db")
	require.NoError(t, err)
	dbPath := f.Name()
	require.NoError(t, f.Close())

	db, err := NewDB(dbPath)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(dbPath)
	})

	return db
}

func TestQueries_AutomaticBans(t *testing.T) {
	q := New(testDB(t))
	ctx := context.Background()

	ban, err := q.CreateAutomaticBan(ctx, CreateAutomaticBanParams{
		IP:           "203.0.113.5",
		Reason:       "rate-exceeded",
		BanTimestamp: time.Now().UTC(),
		Domain:       "example.com",
		UserAgent:    "curl/8.0",
		HTTPCode:     404,
		URL:          "/wp-login.php",
	})
	require.NoError(t, err)
	require.NotZero(t, ban.ID)
	require.Equal(t, "rate-exceeded", ban.Reason)

	got, err := q.GetAutomaticBanByIP(ctx, "203.0.113.5")
	require.NoError(t, err)
	require.Equal(t, "example.com", got.Domain)
	require.Equal(t, "rate-exceeded", got.Reason)

	_, err = q.GetAutomaticBanByIP(ctx, "198.51.100.1")
	require.ErrorIs(t, err, ErrNotFound)

	list, err := q.ListAutomaticBans(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	count, err := q.CountAutomaticBans(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	require.NoError(t, q.DeleteAutomaticBan(ctx, "203.0.113.5"))
	require.ErrorIs(t, q.DeleteAutomaticBan(ctx, "203.0.113.5"), ErrNotFound)
}

func TestQueries_ManualBans(t *testing.T) {
	q := New(testDB(t))
	ctx := context.Background()

	_, err := q.CreateManualBan(ctx, CreateManualBanParams{
		IPOrCIDR:     "198.51.100.0/24",
		Reason:       "credential stuffing",
		BanTimestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	list, err := q.ListManualBans(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "198.51.100.0/24", list[0].IPOrCIDR)

	count, err := q.CountManualBans(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	require.NoError(t, q.DeleteManualBan(ctx, "198.51.100.0/24"))
	require.ErrorIs(t, q.DeleteManualBan(ctx, "198.51.100.0/24"), ErrNotFound)
}

func TestQueries_WhitelistEntries(t *testing.T) {
	q := New(testDB(t))
	ctx := context.Background()

	_, err := q.CreateWhitelistEntry(ctx, CreateWhitelistEntryParams{
		EntryType:   WhitelistEntryCIDR,
		Value:       "10.0.0.0/8",
		Description: "internal network",
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)

	entries, err := q.ListWhitelistEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, WhitelistEntryCIDR, entries[0].EntryType)

	require.NoError(t, q.UpsertWhitelistMetadata(ctx, WhitelistMetadata{
		ResolvedDomain: "uptime.example.com",
		ResolvedIP:     "198.51.100.9",
		ResolvedAt:     time.Now().UTC(),
	}))
	meta, err := q.ListWhitelistMetadata(ctx)
	require.NoError(t, err)
	require.Len(t, meta, 1)

	require.NoError(t, q.DeleteWhitelistEntry(ctx, WhitelistEntryCIDR, "10.0.0.0/8"))
	require.ErrorIs(t, q.DeleteWhitelistEntry(ctx, WhitelistEntryCIDR, "10.0.0.0/8"), ErrNotFound)
}

func TestQueries_Credentials(t *testing.T) {
	q := New(testDB(t))
	ctx := context.Background()

	_, err := q.GetCredentials(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, q.UpsertCredentials(ctx, UpsertCredentialsParams{
		Username:     "admin",
		PasswordHash: "$argon2id$v=19$...",
		UpdatedAt:    now,
	}))

	got, err := q.GetCredentials(ctx)
	require.NoError(t, err)
	require.Equal(t, "admin", got.Username)
	require.False(t, got.TOTPEnabled)
	require.Nil(t, got.TOTPActivatedAt)

	activated := now.Add(time.Minute)
	require.NoError(t, q.UpsertCredentials(ctx, UpsertCredentialsParams{
		Username:        "admin",
		PasswordHash:    got.PasswordHash,
		TOTPEnabled:     true,
		TOTPActivatedAt: &activated,
		UpdatedAt:       activated,
	}))

	got, err = q.GetCredentials(ctx)
	require.NoError(t, err)
	require.True(t, got.TOTPEnabled)
	require.NotNil(t, got.TOTPActivatedAt)
}

func TestQueries_Events(t *testing.T) {
	q := New(testDB(t))
	ctx := context.Background()

	require.NoError(t, q.CreateEvent(ctx, logging.Event{
		Level:     logging.EventLevelError,
		Category:  logging.EventCategoryBan,
		Message:   "fail2ban-client invocation failed",
		Metadata:  "{}",
		CreatedAt: time.Now().UTC(),
	}))

	count, err := q.CountEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	events, err := q.ListEvents(ctx, ListEventsParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, logging.EventCategoryBan, events[0].Category)

	filtered, err := q.ListEvents(ctx, ListEventsParams{Limit: 10, Category: logging.EventCategoryAuth})
	require.NoError(t, err)
	require.Empty(t, filtered)
}
