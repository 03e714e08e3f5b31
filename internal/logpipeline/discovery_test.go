package logpipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDiscoverer_SpawnsFollowerOncePerFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(path, []byte("line one\n"), 0o600))

	c := &collector{}
	d := NewDiscoverer([]string{filepath.Join(dir, "*.log")}, discardLogger(), func(line string, kind LineKind) {
		c.add(line)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	classify := func(string) LineKind { return LineKindAccess }
	d.scan(ctx, classify)
	d.scan(ctx, classify) // a second scan must not spawn a duplicate follower

	d.mu.Lock()
	count := len(d.started)
	d.mu.Unlock()
	require.Equal(t, 1, count)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("line two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lines := waitFor(t, c, 1)
	require.Equal(t, []string{"line two"}, lines)
}

func TestUniqueDirs(t *testing.T) {
	dirs := uniqueDirs([]string{"/var/log/a/*.log", "/var/log/a/*.err", "/var/log/b/*.log"})
	require.ElementsMatch(t, []string{"/var/log/a", "/var/log/b"}, dirs)
}

func TestDiscoverer_RunPicksUpNewFile(t *testing.T) {
	dir := t.TempDir()

	c := &collector{}
	d := NewDiscoverer([]string{filepath.Join(dir, "*.log")}, discardLogger(), func(line string, kind LineKind) {
		c.add(line)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, func(string) LineKind { return LineKindAccess })

	path := filepath.Join(dir, "new.log")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o600))

	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		_, ok := d.started[path]
		d.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("discoverer never picked up the new file")
}
