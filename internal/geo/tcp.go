// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package geo

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"
)

// DefaultTCPPort is the Geo TCP control protocol's default port (spec.md §4.6).
const DefaultTCPPort = "8888"

type tcpRequest struct {
	Action string `json:"action"`
	IP     string `json:"ip"`
}

type tcpLookupResponse struct {
	Success         bool     `json:"success"`
	IP              string   `json:"ip,omitempty"`
	Result          *Result  `json:"result,omitempty"`
	ASNCIDRs        []string `json:"asn_cidrs,omitempty"`
	QueryTimeSecond float64  `json:"query_time_seconds"`
	Error           string   `json:"error,omitempty"`
}

type tcpStatsResponse struct {
	Success bool  `json:"success"`
	Stats   Stats `json:"stats"`
}

// TCPServer serves the newline-less JSON request/response protocol over a
// single TCP connection per request, described in spec.md §4.6.
type TCPServer struct {
	engine *Engine
	logger *slog.Logger
}

// NewTCPServer constructs a TCPServer bound to engine.
func NewTCPServer(engine *Engine, logger *slog.Logger) *TCPServer {
	return &TCPServer{engine: engine, logger: logger}
}

// Serve accepts connections on ln until it is closed, handling each on its
// own goroutine.
func (s *TCPServer) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("geo tcp: accept failed", "category", "geo", "error", err)
			continue
		}
		go s.handle(conn)
	}
}

func (s *TCPServer) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	// Responses are written without a trailing newline.
	reply := func(v any) {
		if b, err := json.Marshal(v); err == nil {
			_, _ = conn.Write(b)
		}
	}

	var req tcpRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		reply(tcpLookupResponse{Success: false, Error: "invalid request"})
		return
	}

	switch req.Action {
	case "lookup":
		start := time.Now()
		result, asnCIDRs, found := s.engine.Lookup(req.IP)
		resp := tcpLookupResponse{
			IP:              req.IP,
			Success:         found,
			ASNCIDRs:        asnCIDRs,
			QueryTimeSecond: time.Since(start).Seconds(),
		}
		if found {
			resp.Result = &result
		} else {
			resp.Error = "not found"
		}
		reply(resp)
	case "stats":
		reply(tcpStatsResponse{Success: true, Stats: s.engine.Stats()})
	default:
		reply(tcpLookupResponse{Success: false, Error: "unknown action"})
	}
}
