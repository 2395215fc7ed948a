// Package logging provides the structured logger factory used throughout the
// client. It configures [log/slog] with a JSON handler, the same shape a
// host application's own services typically use, so the library's log lines
// interleave cleanly with the host's own logs.
//
// Unlike a server, the client core never reads an environment variable to
// pick its level (spec: "no environment variables are read by the core") —
// the host passes a ready-made *slog.Logger through Config.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a [slog.Logger] that writes JSON to stderr at the given level.
// Accepted level strings (case-insensitive): "debug", "info", "warn", "error".
// An empty string defaults to "info".
func New(level string) *slog.Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter creates a [slog.Logger] writing JSON to w at the given level.
func NewWithWriter(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel converts a level string to a [slog.Level].
// Returns [slog.LevelInfo] for unrecognised values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// OrDefault returns logger if non-nil, otherwise a default Info-level JSON
// logger on stderr. Every component that accepts a *slog.Logger from Config
// runs it through OrDefault so a zero-value Config is always safe to use.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return New("info")
}
