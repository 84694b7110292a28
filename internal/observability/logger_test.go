package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v, output: %s", err, buf.String())
	}
	return entry
}

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		emit  func(Logger)
		want  bool
	}{
		{"info logs info", "info", func(l Logger) { l.Info("hello") }, true},
		{"info drops debug", "info", func(l Logger) { l.Debug("hello") }, false},
		{"debug logs debug", "debug", func(l Logger) { l.Debug("hello") }, true},
		{"error drops warn", "error", func(l Logger) { l.Warn("hello") }, false},
		{"warning alias", "warning", func(l Logger) { l.Warn("hello") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.emit(NewLogger(Config{Level: tt.level, Format: "json", Output: buf}))
			if got := strings.Contains(buf.String(), "hello"); got != tt.want {
				t.Errorf("expected message presence=%v, got=%v, output=%s", tt.want, got, buf.String())
			}
		})
	}
}

func TestLoggerFormats(t *testing.T) {
	buf := &bytes.Buffer{}
	NewLogger(Config{Level: "info", Format: "json", Output: buf}).Info("turn merged", "fields", 3)
	entry := decodeEntry(t, buf)
	if entry["msg"] != "turn merged" || entry["fields"] != float64(3) {
		t.Errorf("unexpected json entry: %v", entry)
	}

	buf.Reset()
	NewLogger(Config{Level: "info", Format: "TEXT", Output: buf}).Info("turn merged", "key", "value")
	if !strings.Contains(buf.String(), "key=value") {
		t.Errorf("expected text output, got: %s", buf.String())
	}
}

func TestLoggerWithComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	NewLogger(Config{Level: "info", Output: buf}).WithComponent("setup.session").With("k", "v").Info("msg")
	entry := decodeEntry(t, buf)
	if entry["component"] != "setup.session" || entry["k"] != "v" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestLoggerContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(Config{Level: "debug", Format: "json", Output: buf})

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithSessionID(ctx, "sess-9")
	ctx = WithComponent(ctx, "api")
	logger.InfoContext(ctx, "test message")

	entry := decodeEntry(t, buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("expected request_id, got=%v", entry["request_id"])
	}
	if entry["session_id"] != "sess-9" {
		t.Errorf("expected session_id, got=%v", entry["session_id"])
	}
	if entry["component"] != "api" {
		t.Errorf("expected component, got=%v", entry["component"])
	}
}

func TestContextValueHelpers(t *testing.T) {
	ctx := context.Background()
	if WithSessionID(ctx, "") != ctx {
		t.Error("empty session id should return the original context")
	}
	if got := SessionIDFromContext(nil); got != "" { //nolint:staticcheck // testing nil context handling
		t.Errorf("expected empty string for nil context, got %q", got)
	}
	if got := RequestIDFromContext(WithRequestID(ctx, "r")); got != "r" {
		t.Errorf("RequestIDFromContext() = %q", got)
	}
}

func TestDiscardAndOrDiscard(t *testing.T) {
	Discard().Error("dropped")
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) must return a logger")
	}
	l := NewLogger(DefaultConfig())
	if OrDiscard(l) != l {
		t.Error("OrDiscard should return the given logger")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("TASKRAILS_LOG_LEVEL", "debug")
	t.Setenv("TASKRAILS_LOG_FORMAT", "text")
	cfg := ConfigFromEnv()
	if cfg.Level != "debug" || cfg.Format != "text" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
