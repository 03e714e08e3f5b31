// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/supervisor"
)

// ServicesHandler implements spec.md §4.9's control-plane surface over
// the service supervisor: request_restart, get_restart_status, and
// get_all_pending_restarts.
type ServicesHandler struct {
	SentinelDir string
}

// RequestRestart handles POST /services/{name}/restart.
func (h *ServicesHandler) RequestRestart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := supervisor.RequestRestart(h.SentinelDir, name, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"service": name, "status": "pending"})
}

// RestartStatus handles GET /services/{name}/restart-status.
func (h *ServicesHandler) RestartStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sentinel, pending, err := supervisor.RestartStatus(h.SentinelDir, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if !pending {
		writeJSON(w, http.StatusOK, map[string]any{"service": name, "pending": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": name, "pending": true, "restart": sentinel})
}

// PendingRestarts handles GET /services/restarts.
func (h *ServicesHandler) PendingRestarts(w http.ResponseWriter, r *http.Request) {
	pending, err := supervisor.AllPendingRestarts(h.SentinelDir)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "listing pending restarts", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restarts": pending})
}
