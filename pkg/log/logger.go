package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	providerMu    sync.RWMutex
	defaultOutput io.Writer = os.Stderr
	defaultLevel            = new(slog.LevelVar)
)

// SetLevel sets the minimum level emitted by loggers created after the
// call as well as by already-created ones.
func SetLevel(level Level) {
	defaultLevel.Set(slog.Level(level))
}

// SetOutput redirects all loggers created afterwards to w. Intended for
// tests that want to capture log records.
func SetOutput(w io.Writer) {
	providerMu.Lock()
	defer providerMu.Unlock()
	defaultOutput = w
}

// GetLogger returns the default structured logger.
func GetLogger() Logger {
	return GetLoggerWithName("prego")
}

// GetLoggerWithName returns a logger tagged with a component name, e.g.
// "ensemble.accumulator" or "penalized.cv".
func GetLoggerWithName(name string) Logger {
	providerMu.RLock()
	out := defaultOutput
	providerMu.RUnlock()

	handler := WrapByErrFmtHandler(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: defaultLevel,
	}))
	return &slogLogger{
		logger: slog.New(handler).With(ComponentKey, name),
	}
}

// slogLogger adapts *slog.Logger to the Logger interface.
type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Debug(msg string, fields ...any) { l.logger.Debug(msg, normalize(fields)...) }
func (l *slogLogger) Info(msg string, fields ...any)  { l.logger.Info(msg, normalize(fields)...) }
func (l *slogLogger) Warn(msg string, fields ...any)  { l.logger.Warn(msg, normalize(fields)...) }
func (l *slogLogger) Error(msg string, fields ...any) { l.logger.Error(msg, normalize(fields)...) }

func (l *slogLogger) With(fields ...any) Logger {
	return &slogLogger{logger: l.logger.With(normalize(fields)...)}
}

func (l *slogLogger) Enabled(ctx context.Context, level Level) bool {
	return l.logger.Enabled(ctx, slog.Level(level))
}

// normalize rewrites a leading bare error into an "error" attribute so
// callers can pass errors positionally.
func normalize(fields []any) []any {
	if len(fields) == 0 {
		return fields
	}
	if err, ok := fields[0].(error); ok {
		out := make([]any, 0, len(fields)+1)
		out = append(out, ErrAttr(err))
		out = append(out, fields[1:]...)
		return out
	}
	return fields
}

// ErrAttr wraps an error for structured logging.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}
