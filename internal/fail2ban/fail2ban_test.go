package fail2ban

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fail2ban-client")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o700))
	return path
}

func TestClient_BanIP_Success(t *testing.T) {
	c := &Client{Binary: fakeBinary(t, `echo 1`)}
	res, err := c.BanIP(context.Background(), "nginx-shield", "203.0.113.5")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 0, res.ExitCode)
}

func TestClient_BanIP_NonZeroExit(t *testing.T) {
	c := &Client{Binary: fakeBinary(t, `echo "jail not found" >&2; exit 1`)}
	res, err := c.BanIP(context.Background(), "bad-jail", "203.0.113.5")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, 1, res.ExitCode)
	require.Contains(t, res.Stderr, "jail not found")
}

func TestClient_BanIP_ZeroExitWrongStdout(t *testing.T) {
	// Exit 0 but the stdout isn't the literal "1" success marker.
	c := &Client{Binary: fakeBinary(t, `echo "0"`)}
	res, err := c.BanIP(context.Background(), "nginx-shield", "203.0.113.5")
	require.NoError(t, err)
	require.False(t, res.Success)
}

func TestClient_Timeout(t *testing.T) {
	c := &Client{Binary: fakeBinary(t, `sleep 5; echo 1`), Timeout: 50 * time.Millisecond}
	_, err := c.BanIP(context.Background(), "nginx-shield", "203.0.113.5")
	require.Error(t, err)
}

func TestClient_UnbanIP(t *testing.T) {
	c := &Client{Binary: fakeBinary(t, `echo 1`)}
	res, err := c.UnbanIP(context.Background(), "nginx-shield", "203.0.113.5")
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestClient_Ping(t *testing.T) {
	c := &Client{Binary: fakeBinary(t, `echo 1`)}
	res, err := c.Ping(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestClient_Status(t *testing.T) {
	c := &Client{Binary: fakeBinary(t, `echo "Status for the jail: nginx-shield"`)}
	res, err := c.Status(context.Background(), "nginx-shield")
	require.NoError(t, err)
	require.Contains(t, res.Stdout, "nginx-shield")
}

func TestClient_DefaultsApplied(t *testing.T) {
	c := &Client{}
	require.Equal(t, DefaultBinary, c.binary())
	require.Equal(t, DefaultTimeout, c.timeout())
}
