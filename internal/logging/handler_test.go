package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// discardHandler is a slog.Handler that discards all logs.
type discardHandler struct{}

func (h discardHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h discardHandler) WithGroup(string) slog.Handler             { return h }

// fakeEventWriter records events in memory for assertions.
type fakeEventWriter struct {
	mu     sync.Mutex
	events []Event
}

func (w *fakeEventWriter) CreateEvent(_ context.Context, ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	return nil
}

func (w *fakeEventWriter) all() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Event, len(w.events))
	copy(out, w.events)
	return out
}

func requireSingleEvent(t *testing.T, w *fakeEventWriter) Event {
	t.Helper()
	events := w.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	return events[0]
}

func TestEventLogHandler_Handle_ErrorLevel(t *testing.T) {
	w := &fakeEventWriter{}
	logger := slog.New(NewEventLogHandler(discardHandler{}, w))

	logger.Error("fail2ban invocation failed", "host", "localhost", "port", 5432)

	event := requireSingleEvent(t, w)
	if event.Level != EventLevelError {
		t.Errorf("Level = %q, want %q", event.Level, EventLevelError)
	}
	if event.Message != "fail2ban invocation failed" {
		t.Errorf("Message = %q, want %q", event.Message, "fail2ban invocation failed")
	}
}

func TestEventLogHandler_Handle_WarnLevel(t *testing.T) {
	w := &fakeEventWriter{}
	logger := slog.New(NewEventLogHandler(discardHandler{}, w))

	logger.Warn("slow pattern match detected", "duration_ms", 5000)

	event := requireSingleEvent(t, w)
	if event.Level != EventLevelWarning {
		t.Errorf("Level = %q, want %q", event.Level, EventLevelWarning)
	}
	if event.Message != "slow pattern match detected" {
		t.Errorf("Message = %q, want %q", event.Message, "slow pattern match detected")
	}
}

func TestEventLogHandler_Handle_InfoLevel_NotCaptured(t *testing.T) {
	w := &fakeEventWriter{}
	logger := slog.New(NewEventLogHandler(discardHandler{}, w))

	logger.Info("analyzer started", "port", 8080)

	if got := len(w.all()); got != 0 {
		t.Errorf("expected 0 events for INFO level, got %d", got)
	}
}

func TestEventLogHandler_Handle_DebugLevel_NotCaptured(t *testing.T) {
	w := &fakeEventWriter{}
	logger := slog.New(NewEventLogHandler(discardHandler{}, w))

	logger.Debug("processing log line", "request_id", "abc123")

	if got := len(w.all()); got != 0 {
		t.Errorf("expected 0 events for DEBUG level, got %d", got)
	}
}

func TestEventLogHandler_Handle_CustomLevel(t *testing.T) {
	w := &fakeEventWriter{}
	logger := slog.New(NewEventLogHandlerWithLevel(discardHandler{}, w, slog.LevelInfo))

	logger.Info("analyzer started", "port", 8080)

	if got := len(w.all()); got != 1 {
		t.Errorf("expected 1 event with custom INFO level, got %d", got)
	}
}

func TestEventLogHandler_CategoryInference(t *testing.T) {
	testCases := []struct {
		name     string
		message  string
		category string
	}{
		{"auth_failed", "user authentication failed", EventCategoryAuth},
		{"login_blocked", "login attempt blocked", EventCategoryAuth},
		{"totp", "totp verification failed", EventCategoryAuth},
		{"ban", "ip ban issued", EventCategoryBan},
		{"jail", "jail reload failed", EventCategoryBan},
		{"whitelist", "whitelist refresh failed", EventCategoryWhitelist},
		{"geo", "geo lookup index stale", EventCategoryGeo},
		{"pipeline", "log tail reopen failed", EventCategoryPipeline},
		{"system_default", "unknown error occurred", EventCategorySystem},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := &fakeEventWriter{}
			logger := slog.New(NewEventLogHandler(discardHandler{}, w))

			logger.Error(tc.message)

			event := requireSingleEvent(t, w)
			if event.Category != tc.category {
				t.Errorf("Category = %q, want %q", event.Category, tc.category)
			}
		})
	}
}

func TestEventLogHandler_ExplicitCategory(t *testing.T) {
	w := &fakeEventWriter{}
	logger := slog.New(NewEventLogHandler(discardHandler{}, w))

	logger.Error("something happened", "category", EventCategoryGeo)

	event := requireSingleEvent(t, w)
	if event.Category != EventCategoryGeo {
		t.Errorf("Category = %q, want %q (explicit category should override)", event.Category, EventCategoryGeo)
	}
}

func TestEventLogHandler_MetadataExtraction(t *testing.T) {
	w := &fakeEventWriter{}
	logger := slog.New(NewEventLogHandler(discardHandler{}, w))

	logger.Error("request failed",
		"status_code", 500,
		"path", "/api/bans",
		"duration_ms", 1234,
	)

	event := requireSingleEvent(t, w)
	metadata := event.Metadata
	if metadata == "{}" {
		t.Error("Metadata should not be empty")
	}

	for _, key := range []string{"status_code", "path", "duration_ms"} {
		if !strings.Contains(metadata, key) {
			t.Errorf("Metadata should contain %q: %s", key, metadata)
		}
	}
}

func TestEventLogHandler_WithAttrs(t *testing.T) {
	w := &fakeEventWriter{}
	handler := NewEventLogHandler(discardHandler{}, w)
	handlerWithAttrs := handler.WithAttrs([]slog.Attr{
		slog.String("service", "analyzer"),
	})

	logger := slog.New(handlerWithAttrs)
	logger.Error("service error")

	event := requireSingleEvent(t, w)
	if event.Message != "service error" {
		t.Errorf("Message = %q, want %q", event.Message, "service error")
	}
}

func TestEventLogHandler_WithGroup(t *testing.T) {
	w := &fakeEventWriter{}
	handler := NewEventLogHandler(discardHandler{}, w)
	handlerWithGroup := handler.WithGroup("request")

	logger := slog.New(handlerWithGroup)
	logger.Error("request error", "id", "abc123")

	event := requireSingleEvent(t, w)
	if event.Message != "request error" {
		t.Errorf("Message = %q, want %q", event.Message, "request error")
	}
}

func TestEventLogHandler_MultipleEvents(t *testing.T) {
	w := &fakeEventWriter{}
	logger := slog.New(NewEventLogHandler(discardHandler{}, w))

	logger.Error("error 1")
	logger.Warn("warning 1")
	logger.Error("error 2")
	logger.Warn("warning 2")
	logger.Info("info 1") // Should not be captured

	if got := len(w.all()); got != 4 {
		t.Errorf("expected 4 events (2 errors + 2 warnings), got %d", got)
	}
}

func TestEventLogHandler_SpecialCharactersInMetadata(t *testing.T) {
	w := &fakeEventWriter{}
	logger := slog.New(NewEventLogHandler(discardHandler{}, w))

	logger.Error("parse error",
		"input", `{"key": "value with \"quotes\""}`,
		"path", "C:\\Users\\test",
		"message", "line1\nline2\ttabbed",
	)

	event := requireSingleEvent(t, w)
	if event.Metadata == "" {
		t.Error("Metadata should not be empty")
	}
}

func TestEscapeJSON(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{`hello`, `hello`},
		{`hello "world"`, `hello \"world\"`},
		{`path\to\file`, `path\\to\\file`},
		{"line1\nline2", `line1\nline2`},
		{"col1\tcol2", `col1\tcol2`},
		{"return\rhere", `return\rhere`},
	}

	for _, tc := range testCases {
		result := escapeJSON(tc.input)
		if result != tc.expected {
			t.Errorf("escapeJSON(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestSlogLevelToEventLevel(t *testing.T) {
	testCases := []struct {
		level    slog.Level
		expected string
	}{
		{slog.LevelDebug, EventLevelInfo},
		{slog.LevelInfo, EventLevelInfo},
		{slog.LevelWarn, EventLevelWarning},
		{slog.LevelError, EventLevelError},
		{slog.LevelError + 4, EventLevelError},
	}

	for _, tc := range testCases {
		result := slogLevelToEventLevel(tc.level)
		if result != tc.expected {
			t.Errorf("slogLevelToEventLevel(%v) = %q, want %q", tc.level, result, tc.expected)
		}
	}
}
