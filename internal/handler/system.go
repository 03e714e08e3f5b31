// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"net/http"
	"time"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/sysmonitor"
)

// SystemHandler implements spec.md §4.7's system resource: a live
// resource snapshot and a historical sample window.
type SystemHandler struct {
	Monitor *sysmonitor.Monitor
}

// Snapshot handles GET /system.
func (h *SystemHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Monitor.Snapshot(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindUpstream, "reading system snapshot", err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// History handles GET /system/history?hours=N.
func (h *SystemHandler) History(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	samples, err := h.Monitor.History(since)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "reading system history", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples})
}
