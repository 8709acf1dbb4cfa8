package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/asis/internal/shared"
)

func readLogLines(t *testing.T, home string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal log json: %v", err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewLogger_EmitsStructuredSchema(t *testing.T) {
	home := t.TempDir()
	level := new(slog.LevelVar)
	level.Set(slog.LevelDebug)
	logger, closer, err := NewLogger(home, level, true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("startup phase", "phase", "config_loaded", "event_id", 7)

	lines := readLogLines(t, home)
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d", len(lines))
	}
	entry := lines[0]
	for _, key := range []string{"timestamp", "level", "msg", "component", "trace_id"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing required key %q in log entry: %#v", key, entry)
		}
	}
	if entry["component"] != "runtime" {
		t.Fatalf("expected component=runtime, got %#v", entry["component"])
	}
	if entry["trace_id"] != "-" {
		t.Fatalf("expected trace_id='-', got %#v", entry["trace_id"])
	}
}

func TestNewLogger_TraceFromContext(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, nil, true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	ctx := shared.WithIntent(shared.WithTraceID(context.Background(), "trace-42"), "add_task")
	logger.InfoContext(ctx, "dispatch")

	entry := readLogLines(t, home)[0]
	if entry["trace_id"] != "trace-42" {
		t.Fatalf("expected trace_id from context, got %#v", entry["trace_id"])
	}
	if entry["intent"] != "add_task" {
		t.Fatalf("expected intent from context, got %#v", entry["intent"])
	}
}

func TestNewLogger_LevelVarIsLive(t *testing.T) {
	home := t.TempDir()
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger, closer, err := NewLogger(home, level, true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("dropped")
	level.Set(slog.LevelInfo)
	logger.Info("kept")

	lines := readLogLines(t, home)
	if len(lines) != 1 || lines[0]["msg"] != "kept" {
		t.Fatalf("expected only the post-change record, got %#v", lines)
	}
}

func TestNewLogger_RedactsSensitiveFields(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, nil, true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("security check",
		"smtp_password", "abc123",
		"auth_header", "Authorization: Bearer super-secret-token",
	)

	lines := readLogLines(t, home)
	entry := lines[len(lines)-1]
	if entry["smtp_password"] != "[REDACTED]" {
		t.Fatalf("expected smtp_password redaction, got %#v", entry["smtp_password"])
	}
	if entry["auth_header"] != "[REDACTED]" {
		t.Fatalf("expected auth_header redaction, got %#v", entry["auth_header"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
