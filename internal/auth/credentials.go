// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/store"
)

// DefaultUsername and DefaultPassword are the compiled-in bootstrap
// credentials accepted only while the credentials table is empty; on
// acceptance the default is never persisted, forcing a password change.
const (
	DefaultUsername = "admin_shield"
	DefaultPassword = "nginxshield"
)

// CredentialStore is the subset of store.Queries auth needs, narrowed so
// tests can substitute a fake without a real database.
type CredentialStore interface {
	GetCredentials(ctx context.Context) (store.Credentials, error)
	UpsertCredentials(ctx context.Context, p store.UpsertCredentialsParams) error
}

// Authenticate verifies username/password against the stored credentials,
// or against the compiled-in default when the table is empty. It never
// persists the default login itself — only an explicit password change
// does that.
func Authenticate(ctx context.Context, q CredentialStore, username, password string) (store.Credentials, error) {
	creds, err := q.GetCredentials(ctx)
	if err == store.ErrNotFound {
		if username == DefaultUsername && password == DefaultPassword {
			return store.Credentials{
				Username:               DefaultUsername,
				RequiresPasswordChange: true,
			}, nil
		}
		return store.Credentials{}, apperr.New(apperr.KindAuth, "invalid credentials")
	}
	if err != nil {
		return store.Credentials{}, apperr.Wrap(apperr.KindStore, "loading credentials", err)
	}

	if username != creds.Username {
		return store.Credentials{}, apperr.New(apperr.KindAuth, "invalid credentials")
	}

	ok, err := CheckPassword(password, creds.PasswordHash)
	if err != nil || !ok {
		return store.Credentials{}, apperr.New(apperr.KindAuth, "invalid credentials")
	}
	return creds, nil
}

// ValidateNewPassword enforces spec.md's password-change policy: at least
// 8 characters with at least one uppercase, one lowercase, one digit, and
// one non-alphanumeric character.
func ValidateNewPassword(password string) error {
	if len(password) < 8 {
		return apperr.Validation("password must be at least 8 characters")
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		return apperr.Validation("password must contain an uppercase letter, a lowercase letter, a digit, and a symbol")
	}
	return nil
}

// ChangePassword verifies currentPassword against the stored (or default)
// credentials, validates newPassword against policy, and persists the
// rehashed password with requires_password_change cleared.
func ChangePassword(ctx context.Context, q CredentialStore, username, currentPassword, newPassword string) error {
	creds, err := Authenticate(ctx, q, username, currentPassword)
	if err != nil {
		return err
	}
	if err := ValidateNewPassword(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "hashing password", err)
	}

	return q.UpsertCredentials(ctx, store.UpsertCredentialsParams{
		Username:               username,
		PasswordHash:           hash,
		RequiresPasswordChange: false,
		TOTPEnabled:            creds.TOTPEnabled,
		TOTPSecretEncrypted:    creds.TOTPSecretEncrypted,
		TOTPActivatedAt:        creds.TOTPActivatedAt,
		BackupCodesEncrypted:   creds.BackupCodesEncrypted,
		UpdatedAt:              time.Now(),
	})
}

// GenerateRandomPassword returns a fresh n-character alphanumeric password,
// used to mint a one-time credential after successful backup-code recovery.
func GenerateRandomPassword(n int) (string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random password: %w", err)
	}
	var sb strings.Builder
	sb.Grow(n)
	for _, b := range buf {
		sb.WriteByte(alphabet[int(b)%len(alphabet)])
	}
	return sb.String(), nil
}
