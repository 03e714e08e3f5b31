// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logpipeline implements the Log Pipeline from spec.md §4.1: file
// discovery and tailing across rotation, the three recognized line shapes,
// and the per-line ban decision procedure.
package logpipeline

import (
	"time"

	"github.com/mileusna/useragent"
)

// AccessEvent is the normalized shape produced by the proxy-access,
// default-host, and fallback line parsers.
type AccessEvent struct {
	IP        string
	HTTPCode  int
	Domain    string
	Method    string
	URL       string
	UserAgent string
}

// ErrorEvent is produced by the proxy-error parser. It never drives a ban
// decision; it only routes to the whitelist/normal error-log sink.
type ErrorEvent struct {
	IP       string
	Level    string
	Domain   string
	URL      string
	Upstream string
}

// BanRequest is enqueued onto the ban-request channel by the decision
// procedure (spec.md §4.1 step 6) or via the control-plane API.
type BanRequest struct {
	IP     string
	Reason string
	Domain string
	UA     string
	Code   int
	URL    string
}

// LogLine is enqueued onto the log-line channel for every parsed access
// event, whether or not it resulted in a ban request.
type LogLine struct {
	Event         AccessEvent
	Client        ClientInfo
	Whitelisted   bool
	ClassifiedUA  bool
	ClassifiedURL bool
	Dangerous     bool
	Errors        int
	Banned        bool
	Timestamp     time.Time
}

// ClientInfo is the parsed-UA enrichment surfaced on admin log-tail
// responses. The raw UA string still drives ban decisions; this is
// display-only context for operators.
type ClientInfo struct {
	Browser string
	OS      string
	Device  string
	Bot     bool
}

// parseClientInfo derives ClientInfo from a raw User-Agent string. An
// empty or unparseable UA yields a zero-value ClientInfo.
func parseClientInfo(ua string) ClientInfo {
	if ua == "" {
		return ClientInfo{}
	}
	parsed := useragent.Parse(ua)
	return ClientInfo{
		Browser: parsed.Name,
		OS:      parsed.OS,
		Device:  parsed.Device,
		Bot:     parsed.Bot,
	}
}

// BypassDomain is the synthetic domain tag assigned to default-host lines,
// which carry no Host/SNI information of their own.
const BypassDomain = "BYPASS_DOMAIN"

// UndeterminedDomain is assigned to proxy-access lines with no resolvable
// domain token.
const UndeterminedDomain = "UNDETERMINED"
