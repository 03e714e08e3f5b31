// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ban implements the Ban Orchestrator from spec.md §4.5: a single
// channel-fed batcher that validates, persists, and enforces (via
// fail2ban-client) automatic and manual IP/CIDR bans, sweeping entries
// shadowed by a newly-banned CIDR.
package ban

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/fail2ban"
	"github.com/nginxshield/nginxshield/internal/geo"
	"github.com/nginxshield/nginxshield/internal/ipstate"
	"github.com/nginxshield/nginxshield/internal/store"
)

// BatchSize and BatchFlushInterval bound the orchestrator's single-consumer
// batcher (spec.md §4.5).
const (
	BatchSize          = 10
	BatchFlushInterval = 500 * time.Millisecond
	RequestQueueSize   = 1000
)

// RequestKind identifies which operation a Request carries.
type RequestKind int

const (
	KindBanAutomatic RequestKind = iota
	KindBanManual
	KindBanMultipleCIDRs
	KindUnban
)

// BanTarget identifies which ban table Unban operates against.
type BanTarget string

const (
	TargetAutomatic BanTarget = "automatic"
	TargetManual    BanTarget = "manual"
)

// CIDREntry is one element of a BanMultipleCIDRs request.
type CIDREntry struct {
	CIDR   string
	Reason string
}

// Request is submitted to the orchestrator's channel; exactly one of the
// kind-specific fields is populated per RequestKind.
type Request struct {
	Kind RequestKind

	// BanAutomatic
	IP     string
	Reason string
	Domain string
	UA     string
	Code   int
	URL    string

	// BanManual
	IPOrCIDR string

	// BanMultipleCIDRs
	CIDRs []CIDREntry

	// Unban
	Target BanTarget

	// Result is closed by the batcher once the request has been processed;
	// callers that care about the outcome read from it. Fire-and-forget
	// producers (the log pipeline) may leave it nil.
	Result chan Result
}

// Result is the tagged Ok/Err outcome returned to a Request's caller
// (spec.md §9's "dynamic duck-typed result dicts" boundary convention).
type Result struct {
	Err           error
	IPsUnbanned   int // populated by BanMultipleCIDRs
	NewBan        *store.AutomaticBan
	NewManualBans []store.ManualBan
}

// Mailer sends ban-notification e-mails. internal/mail implements this.
type Mailer interface {
	NotifyBan(ctx context.Context, ip, reason, domain string) error
}

// Options configures an Orchestrator.
type Options struct {
	Queries    *store.Queries
	Fail2Ban   *fail2ban.Client
	Geo        *geo.Engine
	IPState    *ipstate.Manager
	Mailer     Mailer // optional
	JailName   string
	Logger     *slog.Logger
	BatchSize  int
	BatchFlush time.Duration
}

// Orchestrator consumes Requests from a bounded channel into size-bounded,
// time-bounded batches and serializes every fail2ban-client invocation and
// ban-table mutation through a single goroutine.
type Orchestrator struct {
	opts     Options
	requests chan Request
}

// New constructs an Orchestrator with defaults applied to zero-valued
// Options fields. Call Run to start the batcher.
func New(opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = BatchSize
	}
	if opts.BatchFlush <= 0 {
		opts.BatchFlush = BatchFlushInterval
	}
	if opts.JailName == "" {
		opts.JailName = "nginx-shield"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{opts: opts, requests: make(chan Request, RequestQueueSize)}
}

// Submit enqueues r without blocking; it returns false if the queue is full,
// in which case the caller (typically the log pipeline) should drop and
// count the overflow rather than stall.
func (o *Orchestrator) Submit(r Request) bool {
	select {
	case o.requests <- r:
		return true
	default:
		return false
	}
}

// SubmitWait enqueues r, blocking until there is room or ctx is done. Used
// by API handlers, which want a result rather than a fire-and-forget drop.
func (o *Orchestrator) SubmitWait(ctx context.Context, r Request) error {
	select {
	case o.requests <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the batcher until ctx is cancelled, flushing a partial batch
// on shutdown.
func (o *Orchestrator) Run(ctx context.Context) {
	batch := make([]Request, 0, o.opts.BatchSize)
	timer := time.NewTimer(o.opts.BatchFlush)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		o.processBatch(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case req := <-o.requests:
			batch = append(batch, req)
			if len(batch) >= o.opts.BatchSize {
				flush()
				timer.Reset(o.opts.BatchFlush)
			}
		case <-timer.C:
			flush()
			timer.Reset(o.opts.BatchFlush)
		}
	}
}

func (o *Orchestrator) processBatch(ctx context.Context, batch []Request) {
	for _, req := range batch {
		res := o.process(ctx, req)
		if req.Result != nil {
			req.Result <- res
			close(req.Result)
		}
		if res.Err != nil {
			o.opts.Logger.Warn("ban orchestrator request failed", "category", "ban", "error", res.Err)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, req Request) Result {
	switch req.Kind {
	case KindBanAutomatic:
		return o.banAutomatic(ctx, req)
	case KindBanManual:
		return o.banManual(ctx, req)
	case KindBanMultipleCIDRs:
		return o.banMultipleCIDRs(ctx, req)
	case KindUnban:
		return o.unban(ctx, req)
	default:
		return Result{Err: apperr.Validation("unknown ban request kind")}
	}
}

func (o *Orchestrator) banAutomatic(ctx context.Context, req Request) Result {
	if net.ParseIP(req.IP) == nil {
		return Result{Err: apperr.Validation("invalid ip %q", req.IP)}
	}

	if _, err := o.opts.Queries.GetAutomaticBanByIP(ctx, req.IP); err == nil {
		return Result{Err: apperr.New(apperr.KindAlreadyBanned, req.IP)}
	}

	res, err := o.opts.Fail2Ban.BanIP(ctx, o.opts.JailName, req.IP)
	if err != nil || !res.Success {
		// Automatic bans fail open on the firewall call: log and still
		// record the decision so the admin feed shows what happened.
		o.opts.Logger.Error("fail2ban-client ban failed for automatic ban", "category", "ban", "ip", req.IP, "error", err, "stderr", res.Stderr)
	}

	enrichment, _, _ := o.opts.Geo.Lookup(req.IP)

	banRow, err := o.opts.Queries.CreateAutomaticBan(ctx, store.CreateAutomaticBanParams{
		IP:           req.IP,
		Reason:       req.Reason,
		BanTimestamp: time.Now().UTC(),
		Domain:       req.Domain,
		UserAgent:    req.UA,
		HTTPCode:     req.Code,
		URL:          req.URL,
		Network:      enrichment.Network,
		ASN:          enrichment.ASN,
		Organization: enrichment.Organization,
		Country:      enrichment.Country,
	})
	if err != nil {
		return Result{Err: apperr.Wrap(apperr.KindStore, "persisting automatic ban", err)}
	}

	o.opts.IPState.Forget(req.IP)
	o.notify(ctx, req.IP, req.Reason, req.Domain)

	return Result{NewBan: &banRow}
}

func (o *Orchestrator) banManual(ctx context.Context, req Request) Result {
	ip, ipNet, err := parseIPOrCIDR(req.IPOrCIDR)
	if err != nil {
		return Result{Err: apperr.Validation("invalid ip or cidr %q", req.IPOrCIDR)}
	}

	if _, err := o.opts.Queries.GetManualBanByValue(ctx, req.IPOrCIDR); err == nil {
		return Result{Err: apperr.New(apperr.KindAlreadyBanned, req.IPOrCIDR)}
	}
	if ipNet == nil {
		if covered, err := o.coveredByStoredCIDR(ctx, ip); err != nil {
			return Result{Err: apperr.Wrap(apperr.KindStore, "checking cidr coverage", err)}
		} else if covered {
			return Result{Err: apperr.New(apperr.KindCoveredByCIDR, req.IPOrCIDR)}
		}
	}

	res, err := o.opts.Fail2Ban.BanIP(ctx, o.opts.JailName, req.IPOrCIDR)
	if err != nil {
		return Result{Err: apperr.Wrap(apperr.KindFirewall, "fail2ban-client invocation failed", err)}
	}
	if !res.Success {
		return Result{Err: apperr.New(apperr.KindFirewall, strings.TrimSpace(res.Stderr))}
	}

	var enrichment geo.Result
	if ipNet == nil {
		enrichment, _, _ = o.opts.Geo.Lookup(req.IPOrCIDR)
	}

	manualRow, err := o.opts.Queries.CreateManualBan(ctx, store.CreateManualBanParams{
		IPOrCIDR:     req.IPOrCIDR,
		Reason:       req.Reason,
		BanTimestamp: time.Now().UTC(),
		Network:      enrichment.Network,
		ASN:          enrichment.ASN,
		Organization: enrichment.Organization,
		Country:      enrichment.Country,
	})
	if err != nil {
		return Result{Err: apperr.Wrap(apperr.KindStore, "persisting manual ban", err)}
	}

	if ipNet == nil {
		o.opts.IPState.Forget(req.IPOrCIDR)
	} else {
		unbanned := o.sweepEmbeddedIPs(ctx, ipNet)
		return Result{NewManualBans: []store.ManualBan{manualRow}, IPsUnbanned: unbanned}
	}

	o.notify(ctx, req.IPOrCIDR, req.Reason, "")
	return Result{NewManualBans: []store.ManualBan{manualRow}}
}

func (o *Orchestrator) banMultipleCIDRs(ctx context.Context, req Request) Result {
	var created []store.ManualBan
	var totalUnbanned int
	var firstErr error

	for _, entry := range req.CIDRs {
		_, ipNet, err := net.ParseCIDR(entry.CIDR)
		if err != nil {
			if firstErr == nil {
				firstErr = apperr.Validation("invalid cidr %q", entry.CIDR)
			}
			continue
		}
		if _, err := o.opts.Queries.GetManualBanByValue(ctx, entry.CIDR); err == nil {
			if firstErr == nil {
				firstErr = apperr.New(apperr.KindAlreadyBanned, entry.CIDR)
			}
			continue
		}

		res, err := o.opts.Fail2Ban.BanIP(ctx, o.opts.JailName, entry.CIDR)
		if err != nil || !res.Success {
			o.opts.Logger.Error("fail2ban-client ban failed for cidr", "category", "ban", "cidr", entry.CIDR, "error", err, "stderr", res.Stderr)
			if firstErr == nil {
				firstErr = apperr.New(apperr.KindFirewall, strings.TrimSpace(res.Stderr))
			}
			continue
		}

		manualRow, err := o.opts.Queries.CreateManualBan(ctx, store.CreateManualBanParams{
			IPOrCIDR:     entry.CIDR,
			Reason:       entry.Reason,
			BanTimestamp: time.Now().UTC(),
		})
		if err != nil {
			if firstErr == nil {
				firstErr = apperr.Wrap(apperr.KindStore, "persisting cidr ban", err)
			}
			continue
		}
		created = append(created, manualRow)
		totalUnbanned += o.sweepEmbeddedIPs(ctx, ipNet)
	}

	return Result{NewManualBans: created, IPsUnbanned: totalUnbanned, Err: firstErr}
}

// sweepEmbeddedIPs removes rows from both ban tables whose bare IP lies
// inside ipNet, unbanning each one best-effort first (spec.md §4.5).
func (o *Orchestrator) sweepEmbeddedIPs(ctx context.Context, ipNet *net.IPNet) int {
	unbanned := 0

	autoBans, err := o.opts.Queries.ListAutomaticBans(ctx, 1_000_000, 0)
	if err != nil {
		o.opts.Logger.Error("listing automatic bans for cidr sweep failed", "category", "ban", "error", err)
	}
	for _, b := range autoBans {
		ip := net.ParseIP(b.IP)
		if ip == nil || !ipNet.Contains(ip) {
			continue
		}
		o.bestEffortUnban(ctx, b.IP)
		if err := o.opts.Queries.DeleteAutomaticBan(ctx, b.IP); err == nil {
			unbanned++
		}
	}

	manualBans, err := o.opts.Queries.ListManualBans(ctx)
	if err != nil {
		o.opts.Logger.Error("listing manual bans for cidr sweep failed", "category", "ban", "error", err)
	}
	for _, b := range manualBans {
		if strings.Contains(b.IPOrCIDR, "/") {
			continue
		}
		ip := net.ParseIP(b.IPOrCIDR)
		if ip == nil || !ipNet.Contains(ip) {
			continue
		}
		o.bestEffortUnban(ctx, b.IPOrCIDR)
		if err := o.opts.Queries.DeleteManualBan(ctx, b.IPOrCIDR); err == nil {
			unbanned++
		}
	}

	return unbanned
}

func (o *Orchestrator) bestEffortUnban(ctx context.Context, ipOrCIDR string) {
	if _, err := o.opts.Fail2Ban.UnbanIP(ctx, o.opts.JailName, ipOrCIDR); err != nil {
		o.opts.Logger.Warn("best-effort unban failed", "category", "ban", "ip", ipOrCIDR, "error", err)
	}
}

func (o *Orchestrator) unban(ctx context.Context, req Request) Result {
	o.bestEffortUnban(ctx, req.IPOrCIDR)

	switch req.Target {
	case TargetAutomatic:
		if err := o.opts.Queries.DeleteAutomaticBan(ctx, req.IPOrCIDR); err != nil {
			if err == store.ErrNotFound {
				return Result{Err: apperr.New(apperr.KindNotFound, req.IPOrCIDR)}
			}
			return Result{Err: apperr.Wrap(apperr.KindStore, "deleting automatic ban", err)}
		}
	case TargetManual:
		if err := o.opts.Queries.DeleteManualBan(ctx, req.IPOrCIDR); err != nil {
			if err == store.ErrNotFound {
				return Result{Err: apperr.New(apperr.KindNotFound, req.IPOrCIDR)}
			}
			return Result{Err: apperr.Wrap(apperr.KindStore, "deleting manual ban", err)}
		}
	default:
		return Result{Err: apperr.New(apperr.KindKindMismatch, string(req.Target))}
	}

	return Result{}
}

// coveredByStoredCIDR reports whether any persisted manual-ban CIDR
// contains ip (spec.md §4.5 step 3).
func (o *Orchestrator) coveredByStoredCIDR(ctx context.Context, ip net.IP) (bool, error) {
	manualBans, err := o.opts.Queries.ListManualBans(ctx)
	if err != nil {
		return false, err
	}
	for _, b := range manualBans {
		if !strings.Contains(b.IPOrCIDR, "/") {
			continue
		}
		_, ipNet, err := net.ParseCIDR(b.IPOrCIDR)
		if err != nil {
			continue
		}
		if ipNet.Contains(ip) {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) notify(ctx context.Context, ip, reason, domain string) {
	if o.opts.Mailer == nil {
		return
	}
	if err := o.opts.Mailer.NotifyBan(ctx, ip, reason, domain); err != nil {
		o.opts.Logger.Warn("ban notification e-mail failed", "category", "ban", "ip", ip, "error", err)
	}
}

// parseIPOrCIDR returns either a bare IP (ipNet == nil) or a CIDR network.
func parseIPOrCIDR(s string) (net.IP, *net.IPNet, error) {
	if strings.Contains(s, "/") {
		_, ipNet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, nil, err
		}
		return nil, ipNet, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, nil, fmt.Errorf("not a valid ip: %q", s)
	}
	return ip, nil, nil
}
