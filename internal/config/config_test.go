// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"testing"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set %s: %v", key, err)
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	setEnv(t, "SHIELD_SESSION_SECRET", "test-secret-key-32-bytes-long!!!")
	setEnv(t, "SHIELD_TOTP_KEY", "totp-secret-key-32-bytes-long!!!")
}

func TestLoadProcess_Defaults(t *testing.T) {
	os.Clearenv()
	setRequired(t)

	cfg, err := LoadProcess()
	if err != nil {
		t.Fatalf("LoadProcess() error: %v", err)
	}

	if cfg.DBPath != "./data/shield.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "./data/shield.db")
	}
	if cfg.ServerHost != "localhost" {
		t.Errorf("ServerHost = %q, want %q", cfg.ServerHost, "localhost")
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 8080)
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %q, want %q", cfg.Env, "development")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadProcess_CustomValues(t *testing.T) {
	os.Clearenv()
	setRequired(t)
	setEnv(t, "SHIELD_DB_PATH", "/custom/path.db")
	setEnv(t, "SHIELD_SERVER_HOST", "0.0.0.0")
	setEnv(t, "SHIELD_SERVER_PORT", "3000")
	setEnv(t, "SHIELD_ENV", "production")
	setEnv(t, "SHIELD_LOG_LEVEL", "debug")

	cfg, err := LoadProcess()
	if err != nil {
		t.Fatalf("LoadProcess() error: %v", err)
	}

	if cfg.DBPath != "/custom/path.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/custom/path.db")
	}
	if cfg.ServerHost != "0.0.0.0" {
		t.Errorf("ServerHost = %q, want %q", cfg.ServerHost, "0.0.0.0")
	}
	if cfg.ServerPort != 3000 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 3000)
	}
	if cfg.Env != "production" {
		t.Errorf("Env = %q, want %q", cfg.Env, "production")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadProcess_RequiredSessionSecret(t *testing.T) {
	os.Clearenv()
	setEnv(t, "SHIELD_TOTP_KEY", "totp-secret-key-32-bytes-long!!!")

	if _, err := LoadProcess(); err == nil {
		t.Fatal("LoadProcess() should fail when SHIELD_SESSION_SECRET is not set")
	}
}

func TestLoadProcess_RequiredTOTPKey(t *testing.T) {
	os.Clearenv()
	setEnv(t, "SHIELD_SESSION_SECRET", "test-secret-key-32-bytes-long!!!")

	if _, err := LoadProcess(); err == nil {
		t.Fatal("LoadProcess() should fail when SHIELD_TOTP_KEY is not set")
	}
}

func TestLoadProcess_SecretTooShort(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"empty", ""},
		{"short", "short"},
		{"31_bytes", "1234567890123456789012345678901"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			setEnv(t, "SHIELD_SESSION_SECRET", tt.secret)
			setEnv(t, "SHIELD_TOTP_KEY", "totp-secret-key-32-bytes-long!!!")

			if _, err := LoadProcess(); err == nil {
				t.Fatalf("LoadProcess() should fail with %d-byte secret", len(tt.secret))
			}
		})
	}
}

func TestLoadProcess_RejectsKnownWeakSecret(t *testing.T) {
	os.Clearenv()
	setEnv(t, "SHIELD_SESSION_SECRET", "change-me-to-32-byte-secret-key!")
	setEnv(t, "SHIELD_TOTP_KEY", "totp-secret-key-32-bytes-long!!!")

	if _, err := LoadProcess(); err == nil {
		t.Fatal("LoadProcess() should reject a known weak secret")
	}
}

func TestProcess_IsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"production", false},
		{"staging", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := Process{Env: tt.env}
			if got := cfg.IsDevelopment(); got != tt.want {
				t.Errorf("IsDevelopment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcess_ServerAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"localhost", 8080, "localhost:8080"},
		{"0.0.0.0", 3000, "0.0.0.0:3000"},
		{"127.0.0.1", 443, "127.0.0.1:443"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			cfg := Process{ServerHost: tt.host, ServerPort: tt.port}
			if got := cfg.ServerAddr(); got != tt.want {
				t.Errorf("ServerAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}
