// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/ban"
	"github.com/nginxshield/nginxshield/internal/fail2ban"
	"github.com/nginxshield/nginxshield/internal/geo"
	"github.com/nginxshield/nginxshield/internal/ipstate"
	"github.com/nginxshield/nginxshield/internal/store"
)

// defaultPageSize and maxBulkManual bound list pagination and the
// bulk-manual-ban endpoint per spec.md §4.7.
const (
	defaultPageSize = 50
	maxBulkManual   = 20
)

// BanQueries is the subset of store.Queries the bans resource reads from
// directly (writes go through the Ban Orchestrator).
type BanQueries interface {
	ListAutomaticBans(ctx context.Context, limit, offset int64) ([]store.AutomaticBan, error)
	CountAutomaticBans(ctx context.Context) (int64, error)
	ListManualBans(ctx context.Context) ([]store.ManualBan, error)
	CountManualBans(ctx context.Context) (int64, error)
	GetAutomaticBanByIP(ctx context.Context, ip string) (store.AutomaticBan, error)
	GetManualBanByValue(ctx context.Context, ipOrCIDR string) (store.ManualBan, error)
}

// BansHandler implements spec.md §4.7's bans resource.
type BansHandler struct {
	Queries  BanQueries
	Orch     *ban.Orchestrator
	Fail2Ban *fail2ban.Client
	Geo      *geo.Engine
	IPState  *ipstate.Manager
	JailName string
}

type banListResponse struct {
	Automatic         []store.AutomaticBan `json:"automatic"`
	Manual            []store.ManualBan    `json:"manual"`
	AutomaticOffset   int64                 `json:"automatic_offset"`
	ManualOffset      int64                 `json:"manual_offset"`
	AutomaticTotal    int64                 `json:"automatic_total"`
	ManualTotal       int64                 `json:"manual_total"`
	HasMoreAutomatic  bool                  `json:"hasMoreAutomatic"`
	HasMoreManual     bool                  `json:"hasMoreManual"`
}

// List handles GET /bans. Supports automatic_offset/manual_offset/limit
// and a simple substring search filter; a non-empty export parameter
// (e.g. export=csv|json) overrides limit to return everything. The
// response is JSON for every export value; no CSV body is produced.
func (h *BansHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := int64(queryInt(r, "limit", defaultPageSize))
	export := q.Get("export") != ""
	autoOffset := int64(queryInt(r, "automatic_offset", 0))
	manualOffset := int64(queryInt(r, "manual_offset", 0))
	search := strings.ToLower(strings.TrimSpace(q.Get("search")))

	autoTotal, err := h.Queries.CountAutomaticBans(ctx)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "counting automatic bans", err))
		return
	}
	manualTotal, err := h.Queries.CountManualBans(ctx)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "counting manual bans", err))
		return
	}

	autoLimit := limit
	if export {
		autoLimit = autoTotal
	}
	automatic, err := h.Queries.ListAutomaticBans(ctx, maxInt64(autoLimit, 1), autoOffset)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "listing automatic bans", err))
		return
	}
	manual, err := h.Queries.ListManualBans(ctx)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "listing manual bans", err))
		return
	}

	if search != "" {
		automatic = filterAutomatic(automatic, search)
		manual = filterManual(manual, search)
	}

	if !export {
		manual = pageManual(manual, manualOffset, limit)
	}

	writeJSON(w, http.StatusOK, banListResponse{
		Automatic:        automatic,
		Manual:           manual,
		AutomaticOffset:  autoOffset,
		ManualOffset:     manualOffset,
		AutomaticTotal:   autoTotal,
		ManualTotal:      manualTotal,
		HasMoreAutomatic: !export && autoOffset+int64(len(automatic)) < autoTotal,
		HasMoreManual:    !export && manualOffset+int64(len(manual)) < manualTotal,
	})
}

func filterAutomatic(in []store.AutomaticBan, search string) []store.AutomaticBan {
	out := in[:0:0]
	for _, b := range in {
		if strings.Contains(strings.ToLower(b.IP), search) || strings.Contains(strings.ToLower(b.Domain), search) {
			out = append(out, b)
		}
	}
	return out
}

func filterManual(in []store.ManualBan, search string) []store.ManualBan {
	out := in[:0:0]
	for _, b := range in {
		if strings.Contains(strings.ToLower(b.IPOrCIDR), search) {
			out = append(out, b)
		}
	}
	return out
}

func pageManual(in []store.ManualBan, offset, limit int64) []store.ManualBan {
	if offset >= int64(len(in)) {
		return nil
	}
	end := offset + limit
	if end > int64(len(in)) {
		end = int64(len(in))
	}
	return in[offset:end]
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

type manualBanRequest struct {
	IPOrCIDR string `json:"ip_or_cidr"`
	Reason   string `json:"reason"`
}

// ManualBan handles POST /bans/manual.
func (h *BansHandler) ManualBan(w http.ResponseWriter, r *http.Request) {
	var req manualBanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.submitAndRespond(w, r, ban.Request{
		Kind:     ban.KindBanManual,
		IPOrCIDR: req.IPOrCIDR,
		Reason:   req.Reason,
	})
}

type bulkManualRequest struct {
	Entries []manualBanRequest `json:"entries"`
}

// BulkManualBan handles POST /bans/manual/bulk, accepting at most 20
// entries per spec.md §4.7.
func (h *BansHandler) BulkManualBan(w http.ResponseWriter, r *http.Request) {
	var req bulkManualRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Entries) > maxBulkManual {
		writeError(w, apperr.Validation("at most %d entries per bulk request", maxBulkManual))
		return
	}

	results := make([]map[string]string, 0, len(req.Entries))
	for _, entry := range req.Entries {
		res := h.submit(r.Context(), ban.Request{
			Kind:     ban.KindBanManual,
			IPOrCIDR: entry.IPOrCIDR,
			Reason:   entry.Reason,
		})
		status := "ok"
		if res.Err != nil {
			status = res.Err.Error()
		}
		results = append(results, map[string]string{"ip_or_cidr": entry.IPOrCIDR, "status": status})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type cidrMultiRequest struct {
	CIDRs []struct {
		CIDR   string `json:"cidr"`
		Reason string `json:"reason"`
	} `json:"cidrs"`
}

// BanMultipleCIDRs handles POST /bans/cidr/ban-multiple.
func (h *BansHandler) BanMultipleCIDRs(w http.ResponseWriter, r *http.Request) {
	var req cidrMultiRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entries := make([]ban.CIDREntry, 0, len(req.CIDRs))
	for _, c := range req.CIDRs {
		entries = append(entries, ban.CIDREntry{CIDR: c.CIDR, Reason: c.Reason})
	}
	h.submitAndRespond(w, r, ban.Request{Kind: ban.KindBanMultipleCIDRs, CIDRs: entries})
}

type unbanRequest struct {
	Value  string       `json:"value"`
	Target ban.BanTarget `json:"target"`
}

// Unban handles POST /bans/unban.
func (h *BansHandler) Unban(w http.ResponseWriter, r *http.Request) {
	var req unbanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Target == "" {
		req.Target = ban.TargetAutomatic
	}
	h.submitAndRespond(w, r, ban.Request{
		Kind:     ban.KindUnban,
		IPOrCIDR: req.Value,
		Target:   req.Target,
	})
}

// UnbanIPs handles POST /bans/cidr/unban-ips: removes the manual ban for
// the given CIDR and unbans it in fail2ban. Automatic bans of individual
// IPs inside the CIDR are left in place.
func (h *BansHandler) UnbanIPs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CIDR string `json:"cidr"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.submitAndRespond(w, r, ban.Request{Kind: ban.KindUnban, IPOrCIDR: req.CIDR, Target: ban.TargetManual})
}

func (h *BansHandler) submit(ctx context.Context, req ban.Request) ban.Result {
	result := make(chan ban.Result, 1)
	req.Result = result
	if err := h.Orch.SubmitWait(ctx, req); err != nil {
		return ban.Result{Err: apperr.Wrap(apperr.KindStore, "submitting ban request", err)}
	}
	return <-result
}

func (h *BansHandler) submitAndRespond(w http.ResponseWriter, r *http.Request, req ban.Request) {
	res := h.submit(r.Context(), req)
	if res.Err != nil {
		writeError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"new_ban":         res.NewBan,
		"new_manual_bans": res.NewManualBans,
		"ips_unbanned":    res.IPsUnbanned,
	})
}

// Stats handles GET /bans/stats.
func (h *BansHandler) Stats(w http.ResponseWriter, r *http.Request) {
	autoTotal, err := h.Queries.CountAutomaticBans(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "counting automatic bans", err))
		return
	}
	manualTotal, err := h.Queries.CountManualBans(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "counting manual bans", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"automatic_total": autoTotal,
		"manual_total":    manualTotal,
		"total":           autoTotal + manualTotal,
	})
}

// Counts handles GET /bans/counts, an alias kept for clients that poll a
// lighter-weight endpoint than /bans/stats.
func (h *BansHandler) Counts(w http.ResponseWriter, r *http.Request) {
	h.Stats(w, r)
}

// Fail2BanStatus handles GET /bans/fail2ban-status.
func (h *BansHandler) Fail2BanStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.Fail2Ban.Status(r.Context(), h.JailName)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindFirewall, "querying fail2ban status", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": res.Success, "output": res.Stdout})
}

// GeoInfo handles GET /bans/geo-info/{ip}.
func (h *BansHandler) GeoInfo(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	result, cidrs, found := h.Geo.Lookup(ip)
	if !found {
		writeError(w, apperr.New(apperr.KindNotFound, "no geo match for "+ip))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result, "asn_cidrs": cidrs})
}

// CheckStatus handles GET /bans/check-status/{ip}: reports whether ip is
// currently banned (automatic or manual) and its live IP-state counters.
func (h *BansHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	ctx := r.Context()

	_, autoErr := h.Queries.GetAutomaticBanByIP(ctx, ip)
	_, manualErr := h.Queries.GetManualBanByValue(ctx, ip)

	state, hasState := h.IPState.Snapshot(ip)
	resp := map[string]any{
		"automatically_banned": autoErr == nil,
		"manually_banned":      manualErr == nil,
		"tracked":              hasState,
	}
	if hasState {
		resp["errors"] = state.Errors
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckIPs handles POST /bans/cidr/check-ips: reports which of a batch of
// IPs fall within a given CIDR.
func (h *BansHandler) CheckIPs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CIDR string   `json:"cidr"`
		IPs  []string `json:"ips"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	_, network, err := net.ParseCIDR(req.CIDR)
	if err != nil {
		writeError(w, apperr.Validation("invalid cidr %q", req.CIDR))
		return
	}
	covered := make([]string, 0, len(req.IPs))
	for _, ip := range req.IPs {
		if parsed := net.ParseIP(ip); parsed != nil && network.Contains(parsed) {
			covered = append(covered, ip)
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"covered": covered})
}
