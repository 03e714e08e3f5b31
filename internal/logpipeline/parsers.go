// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package logpipeline

import (
	"regexp"
	"strconv"
)

var (
	proxyCodeRe      = regexp.MustCompile(`\s(\d{3})\s`)
	proxyDomainRe    = regexp.MustCompile(`\bhttps? (\S+)`)
	proxyIPRe        = regexp.MustCompile(`\[Client\s([\d.:a-fA-F]+)\]`)
	proxyMethodURLRe = regexp.MustCompile(`\] - \d{3} \d{3} - (\w+) https? \S+ "([^"]+)"`)
	proxyMethodURLAltRe = regexp.MustCompile(`- (\w+) https? \S+ "([^"]+)"`)
	quotedRe         = regexp.MustCompile(`"([^"]*)"`)

	defaultHostRe = regexp.MustCompile(`^(\d+\.\d+\.\d+\.\d+) - - \[[^\]]+\] "(.*?)" (\d{3}) \d+ "-" "([^"]*)"$`)
	requestLineRe = regexp.MustCompile(`^(\w+)\s+(\S+)\s+HTTP/[\d.]+"?`)

	fallbackRe = regexp.MustCompile(`\[[^\]]+\] (\d{3}) - (\w+) (https?) (\S+) "([^"]+)" \[Client ([^\]]+)\].*?"([^"]+)"`)

	errorLevelRe    = regexp.MustCompile(`\[(error|warn|notice|info|debug)\]`)
	errorClientRe   = regexp.MustCompile(`client: ([\d.:a-fA-F]+)`)
	errorServerRe   = regexp.MustCompile(`server: ([^\s,]+)`)
	errorRequestRe  = regexp.MustCompile(`request: "(.*?)"`)
	errorUpstreamRe = regexp.MustCompile(`upstream: "(.*?)"`)
)

// ParseProxyAccess parses the primary proxy-access line shape: a line
// carrying "[Client <ip>]", an HTTP status code, and a request method/URL
// embedded in quotes, as written by the reverse proxy's access log.
func ParseProxyAccess(line string) (AccessEvent, bool) {
	ipMatch := proxyIPRe.FindStringSubmatch(line)
	codeMatch := proxyCodeRe.FindStringSubmatch(line)
	if ipMatch == nil || codeMatch == nil {
		return AccessEvent{}, false
	}

	code, err := strconv.Atoi(codeMatch[1])
	if err != nil {
		return AccessEvent{}, false
	}

	domain := UndeterminedDomain
	if m := proxyDomainRe.FindStringSubmatch(line); m != nil {
		domain = m[1]
	}

	var method, url string
	if m := proxyMethodURLRe.FindStringSubmatch(line); m != nil {
		method, url = m[1], m[2]
	} else if m := proxyMethodURLAltRe.FindStringSubmatch(line); m != nil {
		method, url = m[1], m[2]
	}

	var ua string
	if quoted := quotedRe.FindAllStringSubmatch(line, -1); len(quoted) >= 2 {
		ua = quoted[len(quoted)-2][1]
	}

	return AccessEvent{
		IP:        ipMatch[1],
		HTTPCode:  code,
		Domain:    domain,
		Method:    method,
		URL:       url,
		UserAgent: ua,
	}, true
}

// ParseDefaultHost parses the combined-log-format line served when no
// server_name matches (spec.md's "Default host"), assigning the synthetic
// BypassDomain tag since no domain is present on the line itself.
func ParseDefaultHost(line string) (AccessEvent, bool) {
	m := defaultHostRe.FindStringSubmatch(line)
	if m == nil {
		return AccessEvent{}, false
	}

	code, err := strconv.Atoi(m[3])
	if err != nil {
		return AccessEvent{}, false
	}

	method, url := "-", m[2]
	if req := requestLineRe.FindStringSubmatch(m[2]); req != nil {
		method, url = req[1], req[2]
	}

	return AccessEvent{
		IP:        m[1],
		HTTPCode:  code,
		Domain:    BypassDomain,
		Method:    method,
		URL:       url,
		UserAgent: m[4],
	}, true
}

// ParseFallback parses the fallback server block's access line shape,
// which carries an explicit domain and "[Client <ip>]" marker but in a
// different field order than the primary parser.
func ParseFallback(line string) (AccessEvent, bool) {
	m := fallbackRe.FindStringSubmatch(line)
	if m == nil {
		return AccessEvent{}, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return AccessEvent{}, false
	}
	return AccessEvent{
		IP:        m[6],
		HTTPCode:  code,
		Domain:    m[4],
		Method:    m[2],
		URL:       m[5],
		UserAgent: m[7],
	}, true
}

// ParseProxyError parses the nginx error-log line shape. It never drives a
// ban decision (spec.md §4.1: "writes only to the whitelist/normal
// error-log sink").
func ParseProxyError(line string) (ErrorEvent, bool) {
	level := "unknown"
	if m := errorLevelRe.FindStringSubmatch(line); m != nil {
		level = m[1]
	}

	ip := "UNDETERMINED"
	if m := errorClientRe.FindStringSubmatch(line); m != nil {
		ip = m[1]
	}
	domain := UndeterminedDomain
	if m := errorServerRe.FindStringSubmatch(line); m != nil {
		domain = m[1]
	}
	url := "-"
	if m := errorRequestRe.FindStringSubmatch(line); m != nil {
		url = m[1]
	}
	upstream := "-"
	if m := errorUpstreamRe.FindStringSubmatch(line); m != nil {
		upstream = m[1]
	}

	// A proxy-error line is only recognized if it at least carries the
	// nginx-style severity bracket; otherwise it is indistinguishable from
	// arbitrary text and must be dropped per spec.md §4.1 step 1.
	if !errorLevelRe.MatchString(line) {
		return ErrorEvent{}, false
	}

	return ErrorEvent{IP: ip, Level: level, Domain: domain, URL: url, Upstream: upstream}, true
}

// ParseAccessLine tries each access-line shape in turn (proxy access,
// default host, fallback), returning the first match.
func ParseAccessLine(line string) (AccessEvent, bool) {
	if ev, ok := ParseProxyAccess(line); ok {
		return ev, true
	}
	if ev, ok := ParseDefaultHost(line); ok {
		return ev, true
	}
	if ev, ok := ParseFallback(line); ok {
		return ev, true
	}
	return AccessEvent{}, false
}
