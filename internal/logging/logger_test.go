package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"logalert/internal/config"
)

func TestNewConsoleJSON(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, closeFn, err := NewWithOptions(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "info", Format: "json"},
	}, Options{Console: &out})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closeFn()

	logger.Debug("hidden")
	logger.With("component", "alert-manager").Info("check finished", "condition_id", "c1")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %q", out.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["msg"] != "check finished" || record["component"] != "alert-manager" || record["condition_id"] != "c1" {
		t.Fatalf("unexpected record %+v", record)
	}
	if _, hasTime := record["time"]; hasTime {
		t.Fatalf("expected console time attribute to be dropped")
	}
}

func TestNewConsoleLineFormat(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, closeFn, err := NewWithOptions(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "debug", Format: "line"},
	}, Options{Console: &out})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closeFn()

	logger.Warn("check finished", "condition_id", "c1", "took", 1500*time.Millisecond)
	line := strings.TrimSpace(out.String())
	for _, want := range []string{"level=WARN", `msg="check finished"`, "condition_id=c1", "took=1.5s"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "time=") || strings.Contains(line, "\x1b") {
		t.Fatalf("unexpected console decoration in %q", line)
	}
}

func TestNewTeeWritesFile(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "logalert.log")
	logger, closeFn, err := NewWithOptions(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "error", Format: "json"},
		File:    config.LogSinkConfig{Enabled: true, Level: "info", Format: "json", Path: path},
	}, Options{Console: &out})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("to file only")
	closeFn()

	if out.Len() != 0 {
		t.Fatalf("expected console sink to filter info, got %q", out.String())
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(body), "to file only") {
		t.Fatalf("expected file record, got %q", body)
	}
}

func TestNewRejectsInvalidSinks(t *testing.T) {
	t.Parallel()

	if _, _, err := New(config.LogConfig{}); err == nil {
		t.Fatalf("expected error without sinks")
	}
	if _, _, err := New(config.LogConfig{Console: config.LogSinkConfig{Enabled: true, Level: "trace", Format: "json"}}); err == nil {
		t.Fatalf("expected level error")
	}
	if _, _, err := New(config.LogConfig{Console: config.LogSinkConfig{Enabled: true, Level: "info", Format: "xml"}}); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	if Default(nil) == nil {
		t.Fatalf("expected discard logger")
	}
	logger := Discard()
	if Default(logger) != logger {
		t.Fatalf("expected passthrough logger")
	}
}
