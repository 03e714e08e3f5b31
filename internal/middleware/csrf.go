// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"filippo.io/csrf/gorilla"
)

// CSRFConfig holds configuration for CSRF protection.
// Note: filippo.io/csrf/gorilla uses Fetch metadata headers instead of
// cookies, so cookie-related options (Secure, Domain, Path, MaxAge,
// SameSite) don't apply here — it works independently of the sid cookie's
// own SameSite policy, covering the state-changing POST/PUT/DELETE
// endpoints under /bans, /whitelist, /patterns, /config, and /totp.
type CSRFConfig struct {
	// AuthKey is a 32-byte key used to authenticate the CSRF token.
	// This is the control plane's SHIELD_SESSION_SECRET.
	AuthKey []byte

	// ErrorHandler is called when CSRF validation fails.
	ErrorHandler http.Handler

	// TrustedOrigins is a list of origins that are allowed to make
	// cross-origin requests (SHIELD_TRUSTED_ORIGINS), for admin UIs served
	// from a different host:port than the API.
	TrustedOrigins []string
}

// DefaultCSRFConfig returns a CSRFConfig with sensible defaults.
func DefaultCSRFConfig(authKey []byte, trustedOrigins []string, isDev bool) CSRFConfig {
	cfg := CSRFConfig{
		AuthKey:        authKey,
		TrustedOrigins: trustedOrigins,
	}

	// In development, trust localhost origins for easier testing.
	// Note: csrf library expects host-only values, not full URLs.
	if isDev {
		cfg.TrustedOrigins = append(cfg.TrustedOrigins,
			"localhost:8080",
			"127.0.0.1:8080",
		)
	}

	return cfg
}

// ValidateTrustedOrigins checks that origins are in the correct format.
// The filippo.io/csrf library expects host:port format, not full URLs.
func ValidateTrustedOrigins(origins []string) error {
	for _, origin := range origins {
		if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("trusted origin must be host:port format, not full URL: %s "+
				"(use 'localhost:8080' instead of 'http://localhost:8080')", origin)
		}
		if strings.HasSuffix(origin, "/") {
			return fmt.Errorf("trusted origin should not have trailing slash: %s", origin)
		}
	}
	return nil
}

// CSRF returns a middleware that provides CSRF protection for this
// control-plane API. It uses filippo.io/csrf/gorilla, which checks Fetch
// metadata headers (Origin / Sec-Fetch-Site) rather than a double-submit
// cookie token, so it needs no HTML form to embed a token in and applies
// uniformly to every JSON POST/PUT/DELETE request, including /login.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	var opts []csrf.Option

	if cfg.ErrorHandler != nil {
		opts = append(opts, csrf.ErrorHandler(cfg.ErrorHandler))
	} else {
		opts = append(opts, csrf.ErrorHandler(http.HandlerFunc(csrfErrorHandler)))
	}

	if len(cfg.TrustedOrigins) > 0 {
		opts = append(opts, csrf.TrustedOrigins(cfg.TrustedOrigins))
	}

	return csrf.Protect(cfg.AuthKey, opts...)
}

func csrfErrorHandler(w http.ResponseWriter, r *http.Request) {
	reason := csrf.FailureReason(r)
	reasonStr := "unknown"
	if reason != nil {
		reasonStr = reason.Error()
	}
	slog.Error("CSRF validation failed",
		"category", "security",
		"reason", reasonStr,
		"method", r.Method,
		"path", r.URL.Path,
		"origin", r.Header.Get("Origin"),
		"sec_fetch_site", r.Header.Get("Sec-Fetch-Site"),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"csrf validation failed"}`))
}

// SkipCSRF returns a middleware that skips CSRF protection for specific
// paths — unused by default (every state-changing endpoint here requires
// the check) but kept for health/status routes added later.
func SkipCSRF(paths ...string) func(http.Handler) http.Handler {
	skipPaths := make(map[string]bool)
	for _, p := range paths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				r = csrf.UnsafeSkipCheck(r)
			}
			next.ServeHTTP(w, r)
		})
	}
}
