package logwriter

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nginxshield/nginxshield/internal/logpipeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestWriter_RunFlushesOnTimeoutAndWritesCorrectSink(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, discardLogger())
	require.NoError(t, err)

	lines := make(chan logpipeline.LogLine, 4)
	errs := make(chan logpipeline.ErrorEvent, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, lines, errs)
		close(done)
	}()

	lines <- logpipeline.LogLine{Event: logpipeline.AccessEvent{IP: "1.2.3.4", HTTPCode: 404}, Timestamp: time.Now()}
	lines <- logpipeline.LogLine{Event: logpipeline.AccessEvent{IP: "5.6.7.8"}, Whitelisted: true, Timestamp: time.Now()}

	time.Sleep(FlushInterval + 200*time.Millisecond)
	cancel()
	<-done

	access, err := os.ReadFile(filepath.Join(dir, AccessLog))
	require.NoError(t, err)
	require.Contains(t, string(access), "1.2.3.4")

	whitelist, err := os.ReadFile(filepath.Join(dir, WhitelistLog))
	require.NoError(t, err)
	require.Contains(t, string(whitelist), "5.6.7.8")
}

func TestWriter_RunFlushesOnBatchSize(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, discardLogger())
	require.NoError(t, err)

	lines := make(chan logpipeline.LogLine, BatchSize+1)
	errs := make(chan logpipeline.ErrorEvent, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, lines, errs)
		close(done)
	}()

	for i := 0; i < BatchSize; i++ {
		lines <- logpipeline.LogLine{Event: logpipeline.AccessEvent{IP: "9.9.9.9"}, Timestamp: time.Now()}
	}

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, AccessLog))
		return err == nil && len(data) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
