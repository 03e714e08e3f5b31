package store

import "time"

// AutomaticBan is a ban issued by the detection engine from observed
// request traffic.
type AutomaticBan struct {
	ID           int64
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

// ManualBan is a ban created by an operator, either a single IP or a CIDR.
type ManualBan struct {
	ID           int64
	IPOrCIDR     string
	Reason       string
	BanTimestamp time.Time
	Network      string
	ASN          string
	Organization string
	Country      string
}

// WhitelistEntryType enumerates the kinds of static whitelist entries.
type WhitelistEntryType string

const (
	WhitelistEntryIP     WhitelistEntryType = "ip"
	WhitelistEntryCIDR   WhitelistEntryType = "cidr"
	WhitelistEntryDomain WhitelistEntryType = "domain"
)

// WhitelistEntry is a single static whitelist rule (IP, CIDR, or domain).
type WhitelistEntry struct {
	ID          int64
	EntryType   WhitelistEntryType
	Value       string
	Description string
	CreatedAt   time.Time
}

// WhitelistMetadata records the last DNS resolution of a whitelisted domain.
type WhitelistMetadata struct {
	ResolvedDomain string
	ResolvedIP     string
	ResolvedAt     time.Time
}

// Credentials is the singleton operator account: password, TOTP state, and
// encrypted backup codes.
type Credentials struct {
	ID                     int64
	Username               string
	PasswordHash           string
	RequiresPasswordChange bool
	TOTPEnabled            bool
	TOTPSecretEncrypted    string
	TOTPActivatedAt        *time.Time
	BackupCodesEncrypted   string
	UpdatedAt              time.Time
}

// Event is a persisted security/operational event surfaced on the admin feed.
type Event struct {
	ID        int64
	Level     string
	Category  string
	Message   string
	Metadata  string
	CreatedAt time.Time
}
