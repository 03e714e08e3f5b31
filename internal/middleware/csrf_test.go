// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDefaultCSRFConfig_Development(t *testing.T) {
	authKey := []byte("12345678901234567890123456789012") // 32-byte key
	cfg := DefaultCSRFConfig(authKey, nil, true)           // isDev = true

	if len(cfg.AuthKey) != 32 {
		t.Errorf("expected 32-byte AuthKey, got %d bytes", len(cfg.AuthKey))
	}

	expectedOrigins := map[string]bool{
		"localhost:8080": true,
		"127.0.0.1:8080": true,
	}
	if len(cfg.TrustedOrigins) != len(expectedOrigins) {
		t.Errorf("expected %d TrustedOrigins in dev mode, got %d", len(expectedOrigins), len(cfg.TrustedOrigins))
	}
	for _, origin := range cfg.TrustedOrigins {
		if !expectedOrigins[origin] {
			t.Errorf("unexpected TrustedOrigin: %s (should be host:port, not full URL)", origin)
		}
	}
}

func TestDefaultCSRFConfig_Production(t *testing.T) {
	authKey := []byte("12345678901234567890123456789012") // 32-byte key
	cfg := DefaultCSRFConfig(authKey, nil, false)          // isDev = false

	if len(cfg.AuthKey) != 32 {
		t.Errorf("expected 32-byte AuthKey, got %d bytes", len(cfg.AuthKey))
	}
	if len(cfg.TrustedOrigins) != 0 {
		t.Errorf("expected no TrustedOrigins in production without operator config, got %d", len(cfg.TrustedOrigins))
	}
}

func TestDefaultCSRFConfig_CarriesOperatorOrigins(t *testing.T) {
	authKey := []byte("12345678901234567890123456789012")
	cfg := DefaultCSRFConfig(authKey, []string{"admin.example.com:443"}, false)

	if len(cfg.TrustedOrigins) != 1 || cfg.TrustedOrigins[0] != "admin.example.com:443" {
		t.Errorf("expected operator-supplied origin to survive, got %v", cfg.TrustedOrigins)
	}
}

func TestSkipCSRF_SkipsSpecifiedPaths(t *testing.T) {
	skipPaths := []string{"/api/webhook", "/health"}
	mw := SkipCSRF(skipPaths...)

	var csrfSkipped bool
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		csrfSkipped = true
		w.WriteHeader(http.StatusOK)
	})

	handler := mw(testHandler)

	testCases := []struct {
		path     string
		expected bool
	}{
		{"/api/webhook", true},
		{"/health", true},
		{"/login", true},
		{"/bans/manual", true},
	}

	for _, tc := range testCases {
		csrfSkipped = false
		req := httptest.NewRequest("POST", tc.path, nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if csrfSkipped != tc.expected {
			t.Errorf("path %s: expected handler called=%v, got %v", tc.path, tc.expected, csrfSkipped)
		}
	}
}

func TestSkipCSRF_EmptyPaths(t *testing.T) {
	mw := SkipCSRF()

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := mw(testHandler)

	req := httptest.NewRequest("POST", "/any/path", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestCSRF_MiddlewareCreation(t *testing.T) {
	authKey := []byte("12345678901234567890123456789012")
	cfg := DefaultCSRFConfig(authKey, nil, true)

	mw := CSRF(cfg)
	if mw == nil {
		t.Error("expected middleware to be non-nil")
	}

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := mw(testHandler)
	if handler == nil {
		t.Error("expected wrapped handler to be non-nil")
	}
}

func TestCSRF_WithCustomErrorHandler(t *testing.T) {
	authKey := []byte("12345678901234567890123456789012")
	cfg := DefaultCSRFConfig(authKey, nil, true)

	customCalled := false
	cfg.ErrorHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		customCalled = true
		http.Error(w, "custom csrf error", http.StatusForbidden)
	})

	mw := CSRF(cfg)
	if mw == nil {
		t.Error("expected middleware to be non-nil with custom error handler")
	}
	_ = customCalled
}

// TestTrustedOriginsFormat validates that TrustedOrigins use the correct
// format. The csrf library expects host:port, NOT full URLs.
func TestTrustedOriginsFormat(t *testing.T) {
	authKey := []byte("12345678901234567890123456789012")
	cfg := DefaultCSRFConfig(authKey, nil, true)

	for _, origin := range cfg.TrustedOrigins {
		if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
			t.Errorf("TrustedOrigin %q should be host:port format, not full URL", origin)
		}
		if !strings.Contains(origin, ":") {
			t.Errorf("TrustedOrigin %q should include a port (e.g., localhost:8080)", origin)
		}
	}
}

func TestValidateTrustedOrigins(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		wantErr bool
		errMsg  string
	}{
		{name: "valid host:port format", origins: []string{"localhost:8080", "127.0.0.1:8080"}},
		{name: "valid single origin", origins: []string{"example.com:443"}},
		{name: "empty list", origins: []string{}},
		{name: "nil list", origins: nil},
		{
			name:    "http URL rejected",
			origins: []string{"http://localhost:8080"},
			wantErr: true,
			errMsg:  "must be host:port format, not full URL",
		},
		{
			name:    "https URL rejected",
			origins: []string{"https://example.com:443"},
			wantErr: true,
			errMsg:  "must be host:port format, not full URL",
		},
		{
			name:    "trailing slash rejected",
			origins: []string{"localhost:8080/"},
			wantErr: true,
			errMsg:  "should not have trailing slash",
		},
		{
			name:    "mixed valid and invalid",
			origins: []string{"localhost:8080", "http://invalid:8080"},
			wantErr: true,
			errMsg:  "must be host:port format, not full URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTrustedOrigins(tt.origins)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ValidateTrustedOrigins() expected error, got nil")
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("ValidateTrustedOrigins() error = %q, want error containing %q", err.Error(), tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("ValidateTrustedOrigins() unexpected error: %v", err)
			}
		})
	}
}
