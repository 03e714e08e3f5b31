package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nginxshield/nginxshield/internal/logging"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// Queries wraps a database handle with the hand-written query methods used
// across the control plane and log pipeline. It mirrors the teacher's
// store.New(db) *Queries convention.
type Queries struct {
	db *sql.DB
}

// New returns a Queries bound to db.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// --- events ---------------------------------------------------------------

// CreateEvent persists a single event record. It satisfies
// internal/logging.EventWriter.
func (q *Queries) CreateEvent(ctx context.Context, ev logging.Event) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO events (level, category, message, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.Level, ev.Category, ev.Message, ev.Metadata, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

type ListEventsParams struct {
	Limit    int64
	Offset   int64
	Category string // optional filter, empty matches all
}

func (q *Queries) ListEvents(ctx context.Context, p ListEventsParams) ([]Event, error) {
	var rows *sql.Rows
	var err error
	if p.Category != "" {
		rows, err = q.db.QueryContext(ctx,
			`SELECT id, level, category, message, metadata, created_at FROM events
			 WHERE category = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
			p.Category, p.Limit, p.Offset)
	} else {
		rows, err = q.db.QueryContext(ctx,
			`SELECT id, level, category, message, metadata, created_at FROM events
			 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
			p.Limit, p.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Level, &e.Category, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// --- automatic bans ---------------------------------------------------------

type CreateAutomaticBanParams struct {
	IP           string
	Reason       string
	BanTimestamp time.Time
	Domain       string
	UserAgent    string
	HTTPCode     int
	URL          string
	Network      string
	ASN          string
	Organization string
	Country      string
}

func (q *Queries) CreateAutomaticBan(ctx context.Context, p CreateAutomaticBanParams) (AutomaticBan, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO automatic_bans (ip, reason, ban_timestamp, domain, user_agent, http_code, url, network, asn, organization, country)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.IP, p.Reason, p.BanTimestamp, p.Domain, p.UserAgent, p.HTTPCode, p.URL, p.Network, p.ASN, p.Organization, p.Country,
	)
	if err != nil {
		return AutomaticBan{}, fmt.Errorf("insert automatic ban: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return AutomaticBan{}, fmt.Errorf("last insert id: %w", err)
	}
	return AutomaticBan{
		ID: id, IP: p.IP, Reason: p.Reason, BanTimestamp: p.BanTimestamp, Domain: p.Domain, UserAgent: p.UserAgent,
		HTTPCode: p.HTTPCode, URL: p.URL, Network: p.Network, ASN: p.ASN, Organization: p.Organization, Country: p.Country,
	}, nil
}

func (q *Queries) GetAutomaticBanByIP(ctx context.Context, ip string) (AutomaticBan, error) {
	var b AutomaticBan
	err := q.db.QueryRowContext(ctx,
		`SELECT id, ip, reason, ban_timestamp, domain, user_agent, http_code, url, network, asn, organization, country
		 FROM automatic_bans WHERE ip = ?`, ip,
	).Scan(&b.ID, &b.IP, &b.Reason, &b.BanTimestamp, &b.Domain, &b.UserAgent, &b.HTTPCode, &b.URL, &b.Network, &b.ASN, &b.Organization, &b.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return AutomaticBan{}, ErrNotFound
	}
	if err != nil {
		return AutomaticBan{}, fmt.Errorf("get automatic ban: %w", err)
	}
	return b, nil
}

func (q *Queries) ListAutomaticBans(ctx context.Context, limit, offset int64) ([]AutomaticBan, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, ip, reason, ban_timestamp, domain, user_agent, http_code, url, network, asn, organization, country
		 FROM automatic_bans ORDER BY ban_timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list automatic bans: %w", err)
	}
	defer rows.Close()

	var out []AutomaticBan
	for rows.Next() {
		var b AutomaticBan
		if err := rows.Scan(&b.ID, &b.IP, &b.Reason, &b.BanTimestamp, &b.Domain, &b.UserAgent, &b.HTTPCode, &b.URL, &b.Network, &b.ASN, &b.Organization, &b.Country); err != nil {
			return nil, fmt.Errorf("scan automatic ban: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *Queries) CountAutomaticBans(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM automatic_bans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count automatic bans: %w", err)
	}
	return n, nil
}

func (q *Queries) DeleteAutomaticBan(ctx context.Context, ip string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM automatic_bans WHERE ip = ?`, ip)
	if err != nil {
		return fmt.Errorf("delete automatic ban: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- manual bans ------------------------------------------------------------

type CreateManualBanParams struct {
	IPOrCIDR     string
	Reason       string
	BanTimestamp time.Time
	Network      string
	ASN          string
	Organization string
	Country      string
}

func (q *Queries) CreateManualBan(ctx context.Context, p CreateManualBanParams) (ManualBan, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO manual_bans (ip_or_cidr, reason, ban_timestamp, network, asn, organization, country)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.IPOrCIDR, p.Reason, p.BanTimestamp, p.Network, p.ASN, p.Organization, p.Country,
	)
	if err != nil {
		return ManualBan{}, fmt.Errorf("insert manual ban: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ManualBan{}, fmt.Errorf("last insert id: %w", err)
	}
	return ManualBan{
		ID: id, IPOrCIDR: p.IPOrCIDR, Reason: p.Reason, BanTimestamp: p.BanTimestamp,
		Network: p.Network, ASN: p.ASN, Organization: p.Organization, Country: p.Country,
	}, nil
}

func (q *Queries) GetManualBanByValue(ctx context.Context, ipOrCIDR string) (ManualBan, error) {
	var b ManualBan
	err := q.db.QueryRowContext(ctx,
		`SELECT id, ip_or_cidr, reason, ban_timestamp, network, asn, organization, country
		 FROM manual_bans WHERE ip_or_cidr = ?`, ipOrCIDR,
	).Scan(&b.ID, &b.IPOrCIDR, &b.Reason, &b.BanTimestamp, &b.Network, &b.ASN, &b.Organization, &b.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return ManualBan{}, ErrNotFound
	}
	if err != nil {
		return ManualBan{}, fmt.Errorf("get manual ban: %w", err)
	}
	return b, nil
}

func (q *Queries) ListManualBans(ctx context.Context) ([]ManualBan, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, ip_or_cidr, reason, ban_timestamp, network, asn, organization, country
		 FROM manual_bans ORDER BY ban_timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("list manual bans: %w", err)
	}
	defer rows.Close()

	var out []ManualBan
	for rows.Next() {
		var b ManualBan
		if err := rows.Scan(&b.ID, &b.IPOrCIDR, &b.Reason, &b.BanTimestamp, &b.Network, &b.ASN, &b.Organization, &b.Country); err != nil {
			return nil, fmt.Errorf("scan manual ban: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *Queries) CountManualBans(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM manual_bans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count manual bans: %w", err)
	}
	return n, nil
}

func (q *Queries) DeleteManualBan(ctx context.Context, ipOrCIDR string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM manual_bans WHERE ip_or_cidr = ?`, ipOrCIDR)
	if err != nil {
		return fmt.Errorf("delete manual ban: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- whitelist ---------------------------------------------------------------

type CreateWhitelistEntryParams struct {
	EntryType   WhitelistEntryType
	Value       string
	Description string
	CreatedAt   time.Time
}

func (q *Queries) CreateWhitelistEntry(ctx context.Context, p CreateWhitelistEntryParams) (WhitelistEntry, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO whitelist_entries (entry_type, value, description, created_at) VALUES (?, ?, ?, ?)`,
		string(p.EntryType), p.Value, p.Description, p.CreatedAt,
	)
	if err != nil {
		return WhitelistEntry{}, fmt.Errorf("insert whitelist entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WhitelistEntry{}, fmt.Errorf("last insert id: %w", err)
	}
	return WhitelistEntry{ID: id, EntryType: p.EntryType, Value: p.Value, Description: p.Description, CreatedAt: p.CreatedAt}, nil
}

func (q *Queries) ListWhitelistEntries(ctx context.Context) ([]WhitelistEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, entry_type, value, description, created_at FROM whitelist_entries ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list whitelist entries: %w", err)
	}
	defer rows.Close()

	var out []WhitelistEntry
	for rows.Next() {
		var e WhitelistEntry
		var entryType string
		if err := rows.Scan(&e.ID, &entryType, &e.Value, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan whitelist entry: %w", err)
		}
		e.EntryType = WhitelistEntryType(entryType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) DeleteWhitelistEntry(ctx context.Context, entryType WhitelistEntryType, value string) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM whitelist_entries WHERE entry_type = ? AND value = ?`, string(entryType), value)
	if err != nil {
		return fmt.Errorf("delete whitelist entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) UpsertWhitelistMetadata(ctx context.Context, m WhitelistMetadata) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO whitelist_metadata (resolved_domain, resolved_ip, resolved_at) VALUES (?, ?, ?)
		 ON CONFLICT(resolved_domain) DO UPDATE SET resolved_ip = excluded.resolved_ip, resolved_at = excluded.resolved_at`,
		m.ResolvedDomain, m.ResolvedIP, m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert whitelist metadata: %w", err)
	}
	return nil
}

func (q *Queries) ListWhitelistMetadata(ctx context.Context) ([]WhitelistMetadata, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT resolved_domain, resolved_ip, resolved_at FROM whitelist_metadata`)
	if err != nil {
		return nil, fmt.Errorf("list whitelist metadata: %w", err)
	}
	defer rows.Close()

	var out []WhitelistMetadata
	for rows.Next() {
		var m WhitelistMetadata
		if err := rows.Scan(&m.ResolvedDomain, &m.ResolvedIP, &m.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan whitelist metadata: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- credentials --------------------------------------------------------------

func (q *Queries) GetCredentials(ctx context.Context) (Credentials, error) {
	var c Credentials
	var totpActivatedAt sql.NullTime
	err := q.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, requires_password_change, totp_enabled,
		        totp_secret_encrypted, totp_activated_at, backup_codes_encrypted, updated_at
		 FROM credentials WHERE id = 1`,
	).Scan(&c.ID, &c.Username, &c.PasswordHash, &c.RequiresPasswordChange, &c.TOTPEnabled,
		&c.TOTPSecretEncrypted, &totpActivatedAt, &c.BackupCodesEncrypted, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("get credentials: %w", err)
	}
	if totpActivatedAt.Valid {
		c.TOTPActivatedAt = &totpActivatedAt.Time
	}
	return c, nil
}

type UpsertCredentialsParams struct {
	Username               string
	PasswordHash           string
	RequiresPasswordChange bool
	TOTPEnabled            bool
	TOTPSecretEncrypted    string
	TOTPActivatedAt        *time.Time
	BackupCodesEncrypted   string
	UpdatedAt              time.Time
}

func (q *Queries) UpsertCredentials(ctx context.Context, p UpsertCredentialsParams) error {
	var totpActivatedAt sql.NullTime
	if p.TOTPActivatedAt != nil {
		totpActivatedAt = sql.NullTime{Time: *p.TOTPActivatedAt, Valid: true}
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO credentials (id, username, password_hash, requires_password_change, totp_enabled,
		                          totp_secret_encrypted, totp_activated_at, backup_codes_encrypted, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   password_hash = excluded.password_hash,
		   requires_password_change = excluded.requires_password_change,
		   totp_enabled = excluded.totp_enabled,
		   totp_secret_encrypted = excluded.totp_secret_encrypted,
		   totp_activated_at = excluded.totp_activated_at,
		   backup_codes_encrypted = excluded.backup_codes_encrypted,
		   updated_at = excluded.updated_at`,
		p.Username, p.PasswordHash, p.RequiresPasswordChange, p.TOTPEnabled,
		p.TOTPSecretEncrypted, totpActivatedAt, p.BackupCodesEncrypted, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	return nil
}
