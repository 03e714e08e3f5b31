// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package logpipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nginxshield/nginxshield/internal/cache"
	"github.com/nginxshield/nginxshield/internal/detector"
	"github.com/nginxshield/nginxshield/internal/ipstate"
	"github.com/nginxshield/nginxshield/internal/whitelist"
)

// BanRequestQueueSize and LogLineQueueSize are the bounded channel
// capacities from spec.md §4.1.
const (
	BanRequestQueueSize = 1000
	LogLineQueueSize    = 5000
	ErrorLineQueueSize  = 1000
)

// Classifier abstracts the two classification questions the pipeline asks
// about every access event; implemented by *detector.Detector.
type Classifier interface {
	ClassifyUA(ua string) bool
	ClassifyURL(url string) bool
	IsDangerous(ua, url string) bool
}

var _ Classifier = (*detector.Detector)(nil)

// Whitelister abstracts membership testing; implemented by *whitelist.Engine.
type Whitelister interface {
	Contains(candidate string) bool
}

var _ Whitelister = (*whitelist.Engine)(nil)

// IPState abstracts the sliding-window update; implemented by *ipstate.Manager.
type IPState interface {
	Update(ip string, code int) (errors int, banned bool)
}

var _ IPState = (*ipstate.Manager)(nil)

// Options configures a Pipeline's wiring and domain-specific thresholds.
type Options struct {
	Whitelist         Whitelister
	Detector          Classifier
	IPState           IPState
	ClassifyCache     cache.Cache // may be nil to disable memoization
	MaxRequests       int
	EnableWhitelistLog bool
	Logger            *slog.Logger
}

// Pipeline implements the per-line decision procedure from spec.md §4.1
// step 1-6, fanning parsed lines out to bounded ban-request and log-line
// channels.
type Pipeline struct {
	opts Options

	BanRequests chan BanRequest
	LogLines    chan LogLine
	ErrorLines  chan ErrorEvent

	droppedBans   atomic.Int64
	droppedLogs   atomic.Int64
	droppedErrors atomic.Int64
}

// New constructs a Pipeline with its output channels sized per spec.md.
func New(opts Options) *Pipeline {
	return &Pipeline{
		opts:        opts,
		BanRequests: make(chan BanRequest, BanRequestQueueSize),
		LogLines:    make(chan LogLine, LogLineQueueSize),
		ErrorLines:  make(chan ErrorEvent, ErrorLineQueueSize),
	}
}

// HandleLine is the entry point called by a Follower for every raw line,
// tagged with which parser family produced the file it came from.
func (p *Pipeline) HandleLine(ctx context.Context, line string, kind LineKind) {
	if kind == LineKindError {
		p.handleErrorLine(line)
		return
	}
	p.handleAccessLine(ctx, line)
}

func (p *Pipeline) handleErrorLine(line string) {
	ev, ok := ParseProxyError(line)
	if !ok {
		return
	}
	select {
	case p.ErrorLines <- ev:
	default:
		p.droppedErrors.Add(1)
		p.opts.Logger.Debug("logpipeline: error-line queue full, dropping", "category", "pipeline")
	}
}

func (p *Pipeline) handleAccessLine(ctx context.Context, line string) {
	ev, ok := ParseAccessLine(line)
	if !ok {
		return
	}

	if p.opts.Whitelist.Contains(ev.IP) {
		if p.opts.EnableWhitelistLog {
			p.enqueueLog(LogLine{Event: ev, Whitelisted: true, Timestamp: time.Now()})
		}
		return
	}

	classifiedUA := p.cachedClassify(ctx, "ua", ev.UserAgent, p.opts.Detector.ClassifyUA)
	classifiedURL := p.cachedClassify(ctx, "url", ev.URL, p.opts.Detector.ClassifyURL)
	dangerous := p.cachedIsDangerous(ctx, ev.UserAgent, ev.URL)

	errs, banned := p.opts.IPState.Update(ev.IP, ev.HTTPCode)

	logLine := LogLine{
		Event: ev, Client: parseClientInfo(ev.UserAgent), ClassifiedUA: classifiedUA, ClassifiedURL: classifiedURL,
		Dangerous: dangerous, Errors: errs, Banned: banned, Timestamp: time.Now(),
	}

	switch {
	case banned:
		p.enqueueLog(logLine)
	case dangerous:
		p.enqueueBan(BanRequest{IP: ev.IP, Reason: "dangerous-ua-or-url", Domain: ev.Domain, UA: ev.UserAgent, Code: ev.HTTPCode, URL: ev.URL})
		p.enqueueLog(logLine)
	case p.opts.MaxRequests > 0 && errs >= p.opts.MaxRequests:
		p.enqueueBan(BanRequest{IP: ev.IP, Reason: "rate-exceeded", Domain: ev.Domain, UA: ev.UserAgent, Code: ev.HTTPCode, URL: ev.URL})
		p.enqueueLog(logLine)
	default:
		p.enqueueLog(logLine)
	}
}

func (p *Pipeline) cachedIsDangerous(ctx context.Context, ua, url string) bool {
	if p.opts.ClassifyCache == nil {
		return p.opts.Detector.IsDangerous(ua, url)
	}
	key := "dangerous:" + ua + "\x00" + url
	if b, err := p.opts.ClassifyCache.Get(ctx, key); err == nil {
		return string(b) == "1"
	}
	result := p.opts.Detector.IsDangerous(ua, url)
	_ = p.opts.ClassifyCache.Set(ctx, key, boolBytes(result), 0)
	return result
}

func (p *Pipeline) cachedClassify(ctx context.Context, kind, text string, classify func(string) bool) bool {
	if p.opts.ClassifyCache == nil {
		return classify(text)
	}
	key := kind + ":" + text
	if b, err := p.opts.ClassifyCache.Get(ctx, key); err == nil {
		return string(b) == "1"
	}
	result := classify(text)
	_ = p.opts.ClassifyCache.Set(ctx, key, boolBytes(result), 0)
	return result
}

func boolBytes(b bool) []byte {
	if b {
		return []byte("1")
	}
	return []byte("0")
}

func (p *Pipeline) enqueueBan(req BanRequest) {
	select {
	case p.BanRequests <- req:
	default:
		p.droppedBans.Add(1)
		p.opts.Logger.Debug("logpipeline: ban-request queue full, dropping", "category", "pipeline", "ip", req.IP)
	}
}

func (p *Pipeline) enqueueLog(line LogLine) {
	select {
	case p.LogLines <- line:
	default:
		p.droppedLogs.Add(1)
		p.opts.Logger.Debug("logpipeline: log-line queue full, dropping", "category", "pipeline")
	}
}

// DropCounters reports how many entries have been dropped from each
// output channel due to overflow, for operator visibility.
type DropCounters struct {
	Bans   int64
	Logs   int64
	Errors int64
}

// Drops returns the current drop counters.
func (p *Pipeline) Drops() DropCounters {
	return DropCounters{
		Bans:   p.droppedBans.Load(),
		Logs:   p.droppedLogs.Load(),
		Errors: p.droppedErrors.Load(),
	}
}
