// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config holds the two distinct configuration surfaces used across
// the shield binaries: Process, parsed once from the environment at boot,
// and Store, the hot-reloadable JSON domain config described by spec.md §6.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// knownWeakSecrets contains default/example secrets that must be rejected in production.
var knownWeakSecrets = []string{
	"change-me-to-32-byte-secret-key!",
	"REPLACE_WITH_YOUR_OWN_SECRET_KEY!",
}

// Process holds the application configuration loaded from environment
// variables at process start. It never changes for the lifetime of the
// process; the hot-reloadable domain settings live in Store.
type Process struct {
	DBPath        string `env:"SHIELD_DB_PATH" envDefault:"./data/shield.db"`
	SessionSecret string `env:"SHIELD_SESSION_SECRET,required"`
	ServerHost    string `env:"SHIELD_SERVER_HOST" envDefault:"localhost"`
	ServerPort    int    `env:"SHIELD_SERVER_PORT" envDefault:"8080"`
	Env           string `env:"SHIELD_ENV" envDefault:"development"`
	LogLevel      string `env:"SHIELD_LOG_LEVEL" envDefault:"info"`

	// CSRF: host:port origins (no scheme, no trailing slash) trusted to make
	// cross-origin state-changing requests, beyond the request's own origin.
	TrustedOrigins []string `env:"SHIELD_TRUSTED_ORIGINS"`

	// Log Pipeline
	ConfigPath string `env:"SHIELD_CONFIG_PATH" envDefault:"./data/conf.local"`

	// Own-log output (log batcher sinks, surfaced by the control-plane's
	// log-tail API)
	AppLogDir string `env:"SHIELD_APP_LOG_DIR" envDefault:"./data/logs"`

	// Pattern/dangerous files (internal/patterns.Paths)
	PatternsDir string `env:"SHIELD_PATTERNS_DIR" envDefault:"./data/patterns"`

	// Mail and secure-cookie config stores, hot-reloaded independently of
	// conf.local
	MailConfigPath   string `env:"SHIELD_MAIL_CONFIG_PATH" envDefault:"./data/mail.json"`
	SecureConfigPath string `env:"SHIELD_SECURE_CONFIG_PATH" envDefault:"./data/secure.json"`

	// Cache configuration
	RedisURL     string `env:"SHIELD_REDIS_URL"`
	CachePrefix  string `env:"SHIELD_CACHE_PREFIX" envDefault:"shield:"`
	CacheTTL     int    `env:"SHIELD_CACHE_TTL" envDefault:"3600"`
	CacheMaxSize int    `env:"SHIELD_CACHE_MAX_SIZE" envDefault:"10000"`

	// Geo-Lookup
	GeoCSVPath   string `env:"SHIELD_GEO_CSV_PATH" envDefault:"./data/geo.csv"`
	GeoCachePath string `env:"SHIELD_GEO_CACHE_PATH" envDefault:"./data/geo.cache"`
	GeoTCPAddr   string `env:"SHIELD_GEO_TCP_ADDR" envDefault:"127.0.0.1:9091"`
	GeoHTTPAddr  string `env:"SHIELD_GEO_HTTP_ADDR" envDefault:"127.0.0.1:9092"`

	// TOTP / backup-code at-rest encryption
	TOTPKey string `env:"SHIELD_TOTP_KEY,required"`

	// Supervisor: sentinel directory, plus the child binaries it spawns
	// and restarts (the analyzer and geolocate services).
	SentinelDir      string `env:"SHIELD_SENTINEL_DIR" envDefault:"./data/sentinel"`
	AnalyzerBinPath  string `env:"SHIELD_ANALYZER_BIN" envDefault:"./shield-analyzer"`
	GeolocateBinPath string `env:"SHIELD_GEOLOCATE_BIN" envDefault:"./shield-geolocate"`

	// SMTP notifications
	SMTPHost string `env:"SHIELD_SMTP_HOST"`
	SMTPPort int    `env:"SHIELD_SMTP_PORT" envDefault:"587"`
	SMTPUser string `env:"SHIELD_SMTP_USER"`
	SMTPPass string `env:"SHIELD_SMTP_PASS"`
	SMTPFrom string `env:"SHIELD_SMTP_FROM"`
	SMTPTo   string `env:"SHIELD_SMTP_TO"`

	// Seeding (credentials bootstrap for fresh installs)
	DoSeed bool `env:"SHIELD_DO_SEED" envDefault:"false"`
}

// IsDevelopment returns true if the application is running in development mode.
func (c Process) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Process) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// UseRedisCache returns true if Redis caching is configured.
func (c Process) UseRedisCache() bool {
	return c.RedisURL != ""
}

// SMTPEnabled returns true if SMTP notification delivery is configured.
func (c Process) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != "" && c.SMTPTo != ""
}

// MinSecretLength is the minimum required length for signing/encryption secrets.
const MinSecretLength = 32

// LoadProcess parses environment variables and returns a Process config.
func LoadProcess() (*Process, error) {
	cfg := &Process{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := checkSecretStrength("SHIELD_SESSION_SECRET", cfg.SessionSecret); err != nil {
		return nil, err
	}
	if err := checkSecretStrength("SHIELD_TOTP_KEY", cfg.TOTPKey); err != nil {
		return nil, err
	}

	return cfg, nil
}

func checkSecretStrength(envVar, secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("%s must be at least %d bytes long, got %d bytes; "+
			"generate a secure secret with: openssl rand -base64 32",
			envVar, MinSecretLength, len(secret))
	}

	for _, weak := range knownWeakSecrets {
		if secret == weak {
			return fmt.Errorf("%s is a known default value and must not be used; "+
				"generate a secure secret with: openssl rand -base64 32", envVar)
		}
	}

	if !hasMinimumEntropy(secret) {
		slog.Warn(envVar+" has low character diversity; "+
			"consider generating a random secret with: openssl rand -base64 32",
			"category", "system")
	}

	return nil
}

// hasMinimumEntropy checks that a secret contains at least 3 character classes
// (lowercase, uppercase, digits, special characters).
func hasMinimumEntropy(s string) bool {
	charTypes := 0
	if strings.ContainsAny(s, "abcdefghijklmnopqrstuvwxyz") {
		charTypes++
	}
	if strings.ContainsAny(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		charTypes++
	}
	if strings.ContainsAny(s, "0123456789") {
		charTypes++
	}
	if strings.ContainsAny(s, "!@#$%^&*()-_=+[]{}|;:,.<>?/~`'\"\\") {
		charTypes++
	}
	return charTypes >= 3
}
