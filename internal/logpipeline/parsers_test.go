package logpipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProxyAccess(t *testing.T) {
	line := `[2026-07-30 10:00:00] - 200 200 - GET https example.com "/path" "Mozilla/5.0" "-" [Client 203.0.113.5]`

	ev, ok := ParseProxyAccess(line)
	require.True(t, ok)
	require.Equal(t, "203.0.113.5", ev.IP)
	require.Equal(t, 200, ev.HTTPCode)
	require.Equal(t, "example.com", ev.Domain)
	require.Equal(t, "GET", ev.Method)
	require.Equal(t, "/path", ev.URL)
	require.Equal(t, "Mozilla/5.0", ev.UserAgent)
}

func TestParseProxyAccess_NoMatch(t *testing.T) {
	_, ok := ParseProxyAccess("this is not a proxy access line")
	require.False(t, ok)
}

func TestParseDefaultHost(t *testing.T) {
	line := `192.168.1.1 - - [30/Jul/2026:10:00:00 +0000] "GET /index.html HTTP/1.1" 200 1234 "-" "Mozilla/5.0"`

	ev, ok := ParseDefaultHost(line)
	require.True(t, ok)
	require.Equal(t, "192.168.1.1", ev.IP)
	require.Equal(t, 200, ev.HTTPCode)
	require.Equal(t, BypassDomain, ev.Domain)
	require.Equal(t, "GET", ev.Method)
	require.Equal(t, "/index.html", ev.URL)
	require.Equal(t, "Mozilla/5.0", ev.UserAgent)
}

func TestParseDefaultHost_NoMatch(t *testing.T) {
	_, ok := ParseDefaultHost("not a combined log line")
	require.False(t, ok)
}

func TestParseFallback(t *testing.T) {
	line := `[30/Jul/2026:10:00:00] 404 - POST https example.org "/login" [Client 203.0.113.9] extra "curl/8.0"`

	ev, ok := ParseFallback(line)
	require.True(t, ok)
	require.Equal(t, "203.0.113.9", ev.IP)
	require.Equal(t, 404, ev.HTTPCode)
	require.Equal(t, "example.org", ev.Domain)
	require.Equal(t, "POST", ev.Method)
	require.Equal(t, "/login", ev.URL)
	require.Equal(t, "curl/8.0", ev.UserAgent)
}

func TestParseProxyError(t *testing.T) {
	line := `2026/07/30 10:00:00 [error] 1234#0: *1 client: 203.0.113.9, server: example.org, request: "GET /bad HTTP/1.1", upstream: "http://127.0.0.1:8080/bad", host: "example.org"`

	ev, ok := ParseProxyError(line)
	require.True(t, ok)
	require.Equal(t, "error", ev.Level)
	require.Equal(t, "203.0.113.9", ev.IP)
	require.Equal(t, "example.org", ev.Domain)
	require.Equal(t, "GET /bad HTTP/1.1", ev.URL)
	require.Equal(t, "http://127.0.0.1:8080/bad", ev.Upstream)
}

func TestParseProxyError_NoMatch(t *testing.T) {
	_, ok := ParseProxyError("just a plain line with no severity bracket")
	require.False(t, ok)
}

func TestParseAccessLine_TriesAllShapes(t *testing.T) {
	defaultLine := `192.168.1.2 - - [30/Jul/2026:10:00:00 +0000] "GET / HTTP/1.1" 200 100 "-" "Mozilla/5.0"`
	ev, ok := ParseAccessLine(defaultLine)
	require.True(t, ok)
	require.Equal(t, "192.168.1.2", ev.IP)

	fallbackLine := `[30/Jul/2026:10:00:00] 404 - GET https example.net "/x" [Client 203.0.113.11] "curl/8.0"`
	ev, ok = ParseAccessLine(fallbackLine)
	require.True(t, ok)
	require.Equal(t, "203.0.113.11", ev.IP)

	_, ok = ParseAccessLine("totally unrecognized line shape")
	require.False(t, ok)
}
