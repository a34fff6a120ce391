// Package observability provides structured logging, OpenTelemetry metrics,
// and filter usage statistics for eventdeck.
package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a JSON logger writing to stdout, or a text logger when
// format is "console".
func NewLogger(format string) *slog.Logger {
	return NewLoggerTo(os.Stdout, format)
}

// NewLoggerTo is NewLogger with an explicit writer.
func NewLoggerTo(w io.Writer, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "console" {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// DiscardLogger returns a logger that drops everything. Tests and optional
// collaborators use it in place of nil.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component returns logger tagged with a component attribute. A nil logger
// yields a discarding logger.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = DiscardLogger()
	}
	return logger.With(slog.String("component", name))
}

// LogSwallowed records a failure that was deliberately not propagated.
func LogSwallowed(logger *slog.Logger, msg string, err error, attrs ...any) {
	if logger == nil || err == nil {
		return
	}
	args := append([]any{slog.String("error", err.Error())}, attrs...)
	logger.Warn(msg, args...)
}
