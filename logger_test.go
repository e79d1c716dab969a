package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestInitLogger_FileOutput(t *testing.T) {
	prevLogger, prevLevel := logger, currentLevel
	t.Cleanup(func() {
		logger, currentLevel = prevLogger, prevLevel
		slog.SetDefault(prevLogger)
	})

	path := filepath.Join(t.TempDir(), "urlguard.log")
	var cfg LoggingConfig
	cfg.Level = "debug"
	cfg.Format = "json"
	cfg.Outputs = []string{"file"}
	cfg.File.Path = path

	if err := InitLogger(cfg); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}
	if !IsDebugEnabled() {
		t.Fatal("expected debug level to be active")
	}
	LogWarn("[TEST] hello %s", "world")
	ShutdownLogger()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"[TEST] hello world"`) || !strings.Contains(string(data), `"level":"WARN"`) {
		t.Fatalf("expected JSON warning in log file, got:\n%s", data)
	}
}

func TestInitLogger_Errors(t *testing.T) {
	var cfg LoggingConfig
	cfg.Outputs = []string{"carrier-pigeon"}
	if err := InitLogger(cfg); err == nil {
		t.Fatal("expected unknown output to fail")
	}

	cfg.Outputs = []string{"file"}
	if err := InitLogger(cfg); err == nil {
		t.Fatal("expected file output without a path to fail")
	}
}
