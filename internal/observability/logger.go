// Package observability provides structured logging and metrics.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	requestIDKey contextKey = "requestID"
	sessionIDKey contextKey = "sessionID"
	componentKey contextKey = "component"
)

// Logger defines the interface for structured logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// The *Context variants append request_id, session_id and component
	// from ctx when present.
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// With returns a new Logger with the given attributes.
	With(args ...any) Logger
	// WithComponent returns a new Logger with the component field set.
	WithComponent(name string) Logger
}

// Config holds configuration for the logger.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output is the destination for logs (defaults to os.Stdout).
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
	}
}

// ConfigFromEnv creates a Config from environment variables.
// TASKRAILS_LOG_LEVEL: debug, info, warn, error (default: info)
// TASKRAILS_LOG_FORMAT: json, text (default: json)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if level := os.Getenv("TASKRAILS_LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if format := os.Getenv("TASKRAILS_LOG_FORMAT"); format != "" {
		cfg.Format = format
	}
	return cfg
}

type slogLogger struct {
	slogger *slog.Logger
}

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg Config) Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &slogLogger{slogger: slog.New(handler)}
}

// Discard returns a Logger that drops everything. Used as the default for
// components constructed without a logger.
func Discard() Logger {
	return &slogLogger{slogger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *slogLogger) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.slogger.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.slogger.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

func (l *slogLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *slogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *slogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *slogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{slogger: l.slogger.With(args...)}
}

func (l *slogLogger) WithComponent(name string) Logger {
	return l.With("component", name)
}

func appendContextFields(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	if v := RequestIDFromContext(ctx); v != "" {
		args = append(args, "request_id", v)
	}
	if v := SessionIDFromContext(ctx); v != "" {
		args = append(args, "session_id", v)
	}
	if v := ComponentFromContext(ctx); v != "" {
		args = append(args, "component", v)
	}
	return args
}

func withValue(ctx context.Context, key contextKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func valueFrom(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
func RequestIDFromContext(ctx context.Context) string { return valueFrom(ctx, requestIDKey) }

// WithSessionID stores the setup session ID in the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return withValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext retrieves the setup session ID from context.
func SessionIDFromContext(ctx context.Context) string { return valueFrom(ctx, sessionIDKey) }

// WithComponent stores the component name in the context.
func WithComponent(ctx context.Context, component string) context.Context {
	return withValue(ctx, componentKey, component)
}

// ComponentFromContext retrieves the component name from context.
func ComponentFromContext(ctx context.Context) string { return valueFrom(ctx, componentKey) }
