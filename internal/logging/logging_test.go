package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogWriterTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tracker.log")
	var stdout bytes.Buffer

	writer, closer, err := logWriter(Config{File: path}, &stdout)
	if err != nil {
		t.Fatalf("logWriter: %v", err)
	}

	logger := zerolog.New(writer)
	logger.Info().Str("component", "test").Msg("hello")
	if err := closer(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(stdout.String(), "hello") {
		t.Fatalf("stdout missing line: %q", stdout.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"test"`) {
		t.Fatalf("log file missing line: %q", string(data))
	}
}

func TestNewLoggerLevel(t *testing.T) {
	logger, closer, err := NewLogger(Config{Level: "warn"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer closer()

	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("level = %s, want warn", logger.GetLevel())
	}

	fallback, closeFallback, err := NewLogger(Config{Level: "bogus"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer closeFallback()
	if fallback.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %s", fallback.GetLevel())
	}
}
