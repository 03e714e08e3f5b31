// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package totp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"sort"
	"strings"
	"time"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/auth"
	"github.com/nginxshield/nginxshield/internal/qrcode"
	"github.com/nginxshield/nginxshield/internal/store"
)

const (
	issuer         = "NGINX-SHIELD"
	backupCodes    = 10
	backupCodeLen  = 8
	newPasswordLen = 12
)

// Issuer is the provisioning-URI issuer name, exposed so callers that
// need to re-render a provisioning URI (e.g. the setup HTTP handler) use
// the same value the service signs QR codes with.
const Issuer = issuer

// Service implements the four-step TOTP setup/confirm/disable/regenerate
// procedure from spec.md §4.8, plus login-time code and backup-code
// verification. All persistence goes through store.Queries; the setup
// session itself never touches the database until confirm succeeds.
type Service struct {
	q     auth.CredentialStore
	enc   *Encryptor
	setup *SessionManager
}

// NewService wires a Service against the credentials store and the
// process-wide TOTP encryption passphrase.
func NewService(q auth.CredentialStore, passphrase string) (*Service, error) {
	enc, err := NewEncryptor(passphrase)
	if err != nil {
		return nil, err
	}
	return &Service{q: q, enc: enc, setup: NewSessionManager()}, nil
}

// Sessions exposes the setup-session manager so the scheduler can sweep it.
func (s *Service) Sessions() *SessionManager { return s.setup }

// Setup stages a new TOTP secret for username after verifying
// currentPassword, generating a QR-coded provisioning URI. Nothing is
// written to the credentials store until Confirm succeeds.
func (s *Service) Setup(ctx context.Context, username, currentPassword string) (SetupSession, error) {
	if _, err := auth.Authenticate(ctx, s.q, username, currentPassword); err != nil {
		return SetupSession{}, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return SetupSession{}, apperr.Wrap(apperr.KindStore, "generating totp secret", err)
	}

	uri := ProvisioningURI(issuer, username, secret)
	png, err := qrcode.Encode(uri)
	if err != nil {
		return SetupSession{}, apperr.Wrap(apperr.KindStore, "rendering qr code", err)
	}

	return s.setup.Stage(username, secret, png), nil
}

// Confirm validates code against the staged secret; on success it encrypts
// the secret and a fresh set of 10 backup codes, enables TOTP, and clears
// the setup session. The plaintext backup codes are returned once, for
// display to the operator.
func (s *Service) Confirm(ctx context.Context, username, code string) ([]string, error) {
	staged, ok := s.setup.Get(username)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "no pending totp setup")
	}

	valid, err := Validate(staged.Secret, code, time.Now())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "validating totp code", err)
	}
	if !valid {
		return nil, apperr.New(apperr.KindAuth, "invalid totp code")
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "generating backup codes", err)
	}

	encSecret, err := s.enc.Seal(staged.Secret)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "sealing totp secret", err)
	}
	encCodes, err := s.enc.SealBackupCodes(codes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "sealing backup codes", err)
	}

	creds, err := s.q.GetCredentials(ctx)
	if err != nil && err != store.ErrNotFound {
		return nil, apperr.Wrap(apperr.KindStore, "loading credentials", err)
	}

	now := time.Now()
	if err := s.q.UpsertCredentials(ctx, store.UpsertCredentialsParams{
		Username:               username,
		PasswordHash:           creds.PasswordHash,
		RequiresPasswordChange: creds.RequiresPasswordChange,
		TOTPEnabled:            true,
		TOTPSecretEncrypted:    encSecret,
		TOTPActivatedAt:        &now,
		BackupCodesEncrypted:   encCodes,
		UpdatedAt:              now,
	}); err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "persisting totp state", err)
	}

	s.setup.Clear(username)
	return codes, nil
}

// Disable clears the TOTP columns after verifying both the password and a
// current code.
func (s *Service) Disable(ctx context.Context, username, currentPassword, code string) error {
	creds, err := auth.Authenticate(ctx, s.q, username, currentPassword)
	if err != nil {
		return err
	}
	if !creds.TOTPEnabled {
		return apperr.New(apperr.KindValidation, "totp is not enabled")
	}

	if err := s.verifyStoredCode(creds, code); err != nil {
		return err
	}

	return s.q.UpsertCredentials(ctx, store.UpsertCredentialsParams{
		Username:               username,
		PasswordHash:           creds.PasswordHash,
		RequiresPasswordChange: creds.RequiresPasswordChange,
		TOTPEnabled:            false,
		TOTPSecretEncrypted:    "",
		TOTPActivatedAt:        nil,
		BackupCodesEncrypted:   "",
		UpdatedAt:              time.Now(),
	})
}

// RegenerateBackupCodes verifies the password and a current code, then
// issues and persists a fresh set of 10 backup codes.
func (s *Service) RegenerateBackupCodes(ctx context.Context, username, currentPassword, code string) ([]string, error) {
	creds, err := auth.Authenticate(ctx, s.q, username, currentPassword)
	if err != nil {
		return nil, err
	}
	if !creds.TOTPEnabled {
		return nil, apperr.New(apperr.KindValidation, "totp is not enabled")
	}
	if err := s.verifyStoredCode(creds, code); err != nil {
		return nil, err
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "generating backup codes", err)
	}
	encCodes, err := s.enc.SealBackupCodes(codes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "sealing backup codes", err)
	}

	if err := s.q.UpsertCredentials(ctx, store.UpsertCredentialsParams{
		Username:               username,
		PasswordHash:           creds.PasswordHash,
		RequiresPasswordChange: creds.RequiresPasswordChange,
		TOTPEnabled:            true,
		TOTPSecretEncrypted:    creds.TOTPSecretEncrypted,
		TOTPActivatedAt:        creds.TOTPActivatedAt,
		BackupCodesEncrypted:   encCodes,
		UpdatedAt:              time.Now(),
	}); err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "persisting backup codes", err)
	}
	return codes, nil
}

// VerifyLoginCode checks a login-time TOTP code against the stored,
// encrypted secret for the already-password-verified creds.
func (s *Service) VerifyLoginCode(creds store.Credentials, code string) error {
	return s.verifyStoredCode(creds, code)
}

func (s *Service) verifyStoredCode(creds store.Credentials, code string) error {
	secret, err := s.enc.Open(creds.TOTPSecretEncrypted)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "opening totp secret", err)
	}
	valid, err := Validate(secret, code, time.Now())
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "validating totp code", err)
	}
	if !valid {
		return apperr.New(apperr.KindAuth, "invalid totp code")
	}
	return nil
}

// RecoverWithBackupCodes implements spec.md's literal recovery procedure:
// all 10 submitted codes must match the stored set (order-insensitive,
// uppercase-normalized). On success, TOTP is disabled, backup codes are
// cleared, a fresh random password is minted and persisted, and the
// caller is responsible for minting a session carrying
// requires_password_change=true. Returns the new plaintext password.
func (s *Service) RecoverWithBackupCodes(ctx context.Context, username string, submitted []string) (string, error) {
	creds, err := s.q.GetCredentials(ctx)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStore, "loading credentials", err)
	}
	if username != creds.Username || !creds.TOTPEnabled {
		return "", apperr.New(apperr.KindAuth, "invalid recovery attempt")
	}

	stored, err := s.enc.OpenBackupCodes(creds.BackupCodesEncrypted)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStore, "opening backup codes", err)
	}
	if !sameCodeSet(stored, submitted) {
		return "", apperr.New(apperr.KindAuth, "backup codes do not match")
	}

	newPassword, err := auth.GenerateRandomPassword(newPasswordLen)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStore, "generating recovery password", err)
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStore, "hashing recovery password", err)
	}

	if err := s.q.UpsertCredentials(ctx, store.UpsertCredentialsParams{
		Username:               username,
		PasswordHash:           hash,
		RequiresPasswordChange: true,
		TOTPEnabled:            false,
		TOTPSecretEncrypted:    "",
		TOTPActivatedAt:        nil,
		BackupCodesEncrypted:   "",
		UpdatedAt:              time.Now(),
	}); err != nil {
		return "", apperr.Wrap(apperr.KindStore, "persisting recovery credentials", err)
	}

	return newPassword, nil
}

func sameCodeSet(stored, submitted []string) bool {
	if len(stored) != backupCodes || len(submitted) != backupCodes {
		return false
	}
	a := normalizeCodes(stored)
	b := normalizeCodes(submitted)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if subtle.ConstantTimeCompare([]byte(a[i]), []byte(b[i])) != 1 {
			return false
		}
	}
	return true
}

func normalizeCodes(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	return out
}

func generateBackupCodes() ([]string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codes := make([]string, backupCodes)
	buf := make([]byte, backupCodeLen)
	for i := range codes {
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		var sb strings.Builder
		sb.Grow(backupCodeLen)
		for _, b := range buf {
			sb.WriteByte(alphabet[int(b)%len(alphabet)])
		}
		codes[i] = sb.String()
	}
	return codes, nil
}
