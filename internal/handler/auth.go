// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"encoding/base64"
	"net/http"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/auth"
	appmiddleware "github.com/nginxshield/nginxshield/internal/middleware"
	"github.com/nginxshield/nginxshield/internal/store"
	"github.com/nginxshield/nginxshield/internal/totp"
)

// SessionIssuer is the subset of session.Manager the auth handlers need.
type SessionIssuer interface {
	Issue(username string, requiresPasswordChange bool) (string, error)
	SetCookie(w http.ResponseWriter, token string)
	ClearCookie(w http.ResponseWriter)
}

// AuthHandler implements spec.md §4.8's auth surface.
type AuthHandler struct {
	Store    auth.CredentialStore
	TOTP     *totp.Service
	Sessions SessionIssuer
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	creds, err := auth.Authenticate(r.Context(), h.Store, req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	if creds.TOTPEnabled {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]bool{"requires_totp": true})
		return
	}

	h.issueSession(w, creds)
}

type verifyTOTPRequest struct {
	Username string `json:"username"`
	TOTPCode string `json:"totp_code"`
}

// VerifyTOTP handles POST /login/verify-totp.
func (h *AuthHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyTOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	creds, err := h.Store.GetCredentials(r.Context())
	if err != nil || creds.Username != req.Username || !creds.TOTPEnabled {
		writeError(w, apperr.New(apperr.KindAuth, "invalid credentials"))
		return
	}

	if err := h.TOTP.VerifyLoginCode(creds, req.TOTPCode); err != nil {
		writeError(w, err)
		return
	}

	h.issueSession(w, creds)
}

type verifyBackupCodesRequest struct {
	Username string   `json:"username"`
	Codes    []string `json:"codes"`
}

// VerifyBackupCodes handles POST /login/verify-backup-codes.
func (h *AuthHandler) VerifyBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req verifyBackupCodesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	newPassword, err := h.TOTP.RecoverWithBackupCodes(r.Context(), req.Username, req.Codes)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := h.Sessions.Issue(req.Username, true)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "issuing session", err))
		return
	}
	h.Sessions.SetCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"new_password": newPassword})
}

// Logout handles POST /logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword handles POST /change-password. Requires a session.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := appmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.KindAuth, "missing session"))
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := auth.ChangePassword(r.Context(), h.Store, claims.Username, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type totpSetupRequest struct {
	CurrentPassword string `json:"current_password"`
}

// TOTPSetup handles POST /totp/setup.
func (h *AuthHandler) TOTPSetup(w http.ResponseWriter, r *http.Request) {
	claims, ok := appmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.KindAuth, "missing session"))
		return
	}

	var req totpSetupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	staged, err := h.TOTP.Setup(r.Context(), claims.Username, req.CurrentPassword)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"secret":              staged.Secret,
		"provisioning_uri":    totp.ProvisioningURI(totp.Issuer, claims.Username, staged.Secret),
		"qr_code_png_base64": base64.StdEncoding.EncodeToString(staged.QRCodePNG),
	})
}

type totpConfirmRequest struct {
	TOTPCode string `json:"totp_code"`
}

// TOTPConfirm handles POST /totp/confirm.
func (h *AuthHandler) TOTPConfirm(w http.ResponseWriter, r *http.Request) {
	claims, ok := appmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.KindAuth, "missing session"))
		return
	}

	var req totpConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	codes, err := h.TOTP.Confirm(r.Context(), claims.Username, req.TOTPCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

type totpDisableRequest struct {
	CurrentPassword string `json:"current_password"`
	TOTPCode        string `json:"totp_code"`
}

// TOTPDisable handles POST /totp/disable.
func (h *AuthHandler) TOTPDisable(w http.ResponseWriter, r *http.Request) {
	claims, ok := appmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.KindAuth, "missing session"))
		return
	}

	var req totpDisableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.TOTP.Disable(r.Context(), claims.Username, req.CurrentPassword, req.TOTPCode); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type totpRegenerateRequest struct {
	CurrentPassword string `json:"current_password"`
	TOTPCode        string `json:"totp_code"`
}

// TOTPRegenerateBackupCodes handles POST /totp/regenerate-backup-codes.
func (h *AuthHandler) TOTPRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims, ok := appmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.KindAuth, "missing session"))
		return
	}

	var req totpRegenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	codes, err := h.TOTP.RegenerateBackupCodes(r.Context(), claims.Username, req.CurrentPassword, req.TOTPCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

func (h *AuthHandler) issueSession(w http.ResponseWriter, creds store.Credentials) {
	token, err := h.Sessions.Issue(creds.Username, creds.RequiresPasswordChange)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "issuing session", err))
		return
	}
	h.Sessions.SetCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{
		"username":                 creds.Username,
		"requires_password_change": creds.RequiresPasswordChange,
	})
}
