// Package log provides the structured logging interface used across
// prego. The interface is slog-compatible so the backend can be swapped
// without touching call sites; the default provider emits JSON records
// and expands cockroachdb/errors stack traces into a dedicated
// attribute.
package log

import (
	"context"
)

// Logger is a minimal structured logging interface compatible with
// Go's log/slog. Fields are alternating key/value pairs.
type Logger interface {
	// Debug logs detailed diagnostic information.
	Debug(msg string, fields ...any)

	// Info logs general operational information.
	Info(msg string, fields ...any)

	// Warn logs a potentially problematic condition that does not stop
	// the operation.
	Warn(msg string, fields ...any)

	// Error logs an error condition. If the first field is an error its
	// stack trace is attached when available.
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits records at the given level.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, value-compatible with slog.Level.
type Level int

// Standard logging levels.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
