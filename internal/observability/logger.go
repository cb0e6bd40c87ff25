package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
)

type Logger struct {
	base *slog.Logger
}

// NewLogger writes JSON lines in production and human-readable text
// everywhere else.
func NewLogger(environment string) *Logger {
	return NewLoggerTo(os.Stdout, environment)
}

func NewLoggerTo(w io.Writer, environment string) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if environment == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{base: slog.New(handler)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{base: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.write(slog.LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.write(slog.LevelWarn, message, fields)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.write(slog.LevelError, message, fields)
}

// SecurityEvent records a security-relevant decision (failed login,
// revocation, rate-limit rejection) for external monitoring.
func (l *Logger) SecurityEvent(eventType string, details map[string]any) {
	fields := make(map[string]any, len(details)+1)
	for k, v := range details {
		fields[k] = v
	}
	fields["event_type"] = eventType

	l.write(slog.LevelWarn, "security_event", fields)
}

func (l *Logger) write(level slog.Level, message string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}

	l.base.LogAttrs(context.Background(), level, message, attrs...)
}
