// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session implements the control-plane's signed session tokens:
// HMAC-signed JWTs carried in an HTTP-only "sid" cookie, with a sliding
// refresh when the remaining lifetime drops below 30 seconds. This
// replaces the teacher CMS's server-side scs session store (see DESIGN.md)
// with a stateless token, mirroring the original implementation's
// TokenManager (30-minute expiry, sub/requires_password_change claims,
// refresh-under-30s-remaining behavior).
package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTTL is the signed session token's lifetime.
const TokenTTL = 30 * time.Minute

// RefreshThreshold is how much remaining lifetime triggers a sliding
// refresh on the next validated request.
const RefreshThreshold = 30 * time.Second

// CookieName is the session cookie carried on every control-plane request.
const CookieName = "sid"

// Claims is the JWT payload minted for an authenticated operator session.
type Claims struct {
	Username               string `json:"username"`
	RequiresPasswordChange bool   `json:"requires_password_change"`
	jwt.RegisteredClaims
}

// SecureConfig reports whether cookies should carry Secure and which
// SameSite policy to use, driven by the control-plane's SECURE_COOKIES
// runtime toggle (spec.md §6).
type SecureConfig interface {
	SecureCookies() bool
}

// Manager mints and validates session tokens.
type Manager struct {
	secret []byte
	secure SecureConfig
}

// NewManager builds a Manager signing tokens with secret (the process's
// SHIELD_SESSION_SECRET). secure controls the cookie's Secure/SameSite
// attributes at write time.
func NewManager(secret []byte, secure SecureConfig) *Manager {
	return &Manager{secret: secret, secure: secure}
}

// Issue mints a fresh signed token for username.
func (m *Manager) Issue(username string, requiresPasswordChange bool) (string, error) {
	now := time.Now()
	claims := Claims{
		Username:               username,
		RequiresPasswordChange: requiresPasswordChange,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("session: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token, returning its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("session: invalid token")
	}
	return claims, nil
}

// NeedsRefresh reports whether claims' remaining lifetime is under
// RefreshThreshold, at which point the caller should mint and set a new
// token (sliding refresh).
func NeedsRefresh(claims *Claims) bool {
	if claims.ExpiresAt == nil {
		return true
	}
	return time.Until(claims.ExpiresAt.Time) < RefreshThreshold
}

// SetCookie writes the session cookie onto w. Both Secure and SameSite
// follow the Secure-Config flag: with SECURE_COOKIES on the cookie is
// Secure with SameSite=None, otherwise it is non-Secure with SameSite=Lax.
func (m *Manager) SetCookie(w http.ResponseWriter, token string) {
	secure := false
	if m.secure != nil {
		secure = m.secure.SecureCookies()
	}
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		MaxAge:   int(TokenTTL.Seconds()),
	})
}

// ClearCookie expires the session cookie on logout.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	secure := false
	if m.secure != nil {
		secure = m.secure.SecureCookies()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// FromRequest extracts the sid cookie from an incoming request, if present.
func FromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	return c.Value, true
}
