// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nginxshield/nginxshield/internal/session"
)

type ctxKey int

const claimsCtxKey ctxKey = iota

// SessionManager is the subset of session.Manager the auth middleware
// needs, so it can be faked in tests.
type SessionManager interface {
	Validate(tokenString string) (*session.Claims, error)
	Issue(username string, requiresPasswordChange bool) (string, error)
	SetCookie(w http.ResponseWriter, token string)
}

// RefreshedTokenHeader carries a sliding-refresh token alongside the
// set-cookie, per spec.md §4.8, for clients that read the token directly
// instead of relying on the cookie jar.
const RefreshedTokenHeader = "X-Session-Token"

// RequireSession validates the sid cookie on every request, rejecting
// with 401 when it's missing, malformed, or expired. When the validated
// token's remaining lifetime is under session.RefreshThreshold it mints
// and sets a fresh cookie (sliding refresh), per spec.md §4.8.
func RequireSession(mgr SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := session.FromRequest(r)
			if !ok {
				writeUnauthorized(w)
				return
			}

			claims, err := mgr.Validate(token)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			if session.NeedsRefresh(claims) {
				if fresh, err := mgr.Issue(claims.Username, claims.RequiresPasswordChange); err == nil {
					mgr.SetCookie(w, fresh)
					w.Header().Set(RefreshedTokenHeader, fresh)
				}
			}

			ctx := context.WithValue(r.Context(), claimsCtxKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves the session claims stashed by RequireSession.
func ClaimsFromContext(ctx context.Context) (*session.Claims, bool) {
	claims, ok := ctx.Value(claimsCtxKey).(*session.Claims)
	return claims, ok
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
