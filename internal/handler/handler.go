// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package handler implements the control-plane HTTP surface from
// spec.md §4.7: bans, whitelist, patterns, config, system, logs, mail,
// secure-config, and service-supervisor resources, plus the auth surface
// from §4.8. Every handler speaks JSON in/out and maps apperr.Kind to the
// status codes in §7.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/nginxshield/nginxshield/internal/apperr"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeExport encodes v as JSON, or as YAML when the request asks for
// it via "?format=yaml" or "Accept: application/yaml". Admin-facing
// config export endpoints (mail, secure-config) use this so operators
// can pull a YAML copy for version control without a separate tool.
func writeExport(w http.ResponseWriter, r *http.Request, status int, v any) {
	if r.URL.Query().Get("format") == "yaml" || r.Header.Get("Accept") == "application/yaml" {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(status)
		_ = yaml.NewEncoder(w).Encode(v)
		return
	}
	writeJSON(w, status, v)
}

// decodeJSON decodes the request body into v, returning a validation
// error on malformed JSON.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "malformed request body", err)
	}
	return nil
}

// writeError maps err to an HTTP status per spec.md §7 and writes a JSON
// error body with error_type/message fields.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error_type": "InternalError",
			"message":    "internal error",
		})
		return
	}

	status := statusForKind(appErr.Kind)
	writeJSON(w, status, map[string]string{
		"error_type": string(appErr.Kind),
		"message":    appErr.Message,
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindAlreadyBanned:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindKindMismatch:
		return http.StatusConflict
	case apperr.KindCoveredByCIDR:
		return http.StatusConflict
	case apperr.KindFirewall:
		return http.StatusBadGateway
	case apperr.KindUpstream:
		return http.StatusBadGateway
	case apperr.KindStore:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// queryInt reads a query parameter as an int, falling back to def on
// absence or parse failure.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}
