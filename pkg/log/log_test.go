package log

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/prego-ml/prego/pkg/errors"
)

func captureLogger(t *testing.T, name string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })
	SetLevel(LevelDebug)
	t.Cleanup(func() { SetLevel(LevelInfo) })
	return GetLoggerWithName(name), &buf
}

func decodeRecord(t *testing.T, line string) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("record is not JSON: %v\n%s", err, line)
	}
	return rec
}

func TestLoggerEmitsComponentAndFields(t *testing.T) {
	logger, buf := captureLogger(t, "penalized.cv")

	logger.Info("penalty selected", LambdaKey, 0.031, FoldKey, 3)

	rec := decodeRecord(t, strings.TrimSpace(buf.String()))
	if rec["msg"] != "penalty selected" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec[ComponentKey] != "penalized.cv" {
		t.Errorf("component = %v, want penalized.cv", rec[ComponentKey])
	}
	if rec[LambdaKey] != 0.031 {
		t.Errorf("lambda = %v, want 0.031", rec[LambdaKey])
	}
	if rec[FoldKey] != float64(3) {
		t.Errorf("fold = %v, want 3", rec[FoldKey])
	}
}

func TestLeadingErrorBecomesErrorAttribute(t *testing.T) {
	logger, buf := captureLogger(t, "test")

	logger.Error("fit failed", errors.NewValueError("Fit", "bad input"), "extra", 1)

	rec := decodeRecord(t, strings.TrimSpace(buf.String()))
	if _, ok := rec[ErrAttrKey]; !ok {
		t.Errorf("record has no %q attribute: %v", ErrAttrKey, rec)
	}
	if rec["extra"] != float64(1) {
		t.Errorf("extra = %v, want 1", rec["extra"])
	}
}

func TestErrFmtHandlerAttachesStacktrace(t *testing.T) {
	logger, buf := captureLogger(t, "test")

	logger.Error("boom", errors.NewConfigError("param", "reason", 1))

	rec := decodeRecord(t, strings.TrimSpace(buf.String()))
	st, ok := rec[StacktraceAttrKey].(string)
	if !ok || st == "" {
		t.Errorf("record has no stack trace: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })
	SetLevel(LevelWarn)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	logger := GetLoggerWithName("test")
	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("suppressed records were emitted: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn record missing: %s", out)
	}

	if logger.Enabled(context.Background(), LevelDebug) {
		t.Error("Enabled(debug) = true at warn level")
	}
	if !logger.Enabled(context.Background(), LevelError) {
		t.Error("Enabled(error) = false at warn level")
	}
}

func TestWithAddsPersistentFields(t *testing.T) {
	logger, buf := captureLogger(t, "test")

	child := logger.With(OperationKey, "fit")
	child.Info("step one")
	child.Info("step two")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("emitted %d records, want 2", len(lines))
	}
	for _, line := range lines {
		rec := decodeRecord(t, line)
		if rec[OperationKey] != "fit" {
			t.Errorf("operation = %v, want fit: %s", rec[OperationKey], line)
		}
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
