package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdc.log")

	logger, err := Init("collector", "info", path)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	logger.Info("hello", "key", "value")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "hello") || !strings.Contains(out, "service=collector") {
		t.Errorf("log output = %q, want message and service attr", out)
	}
}

func TestInitFiltersBelowLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdc.log")

	logger, err := Init("collector", "warn", path)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	logger.Info("quiet")
	logger.Warn("loud")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "quiet") {
		t.Error("info line logged at warn level")
	}
	if !strings.Contains(out, "loud") {
		t.Error("warn line missing")
	}
}
