package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/vein-cache/vein/internal/config"
)

func TestInitLoggerDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.LoggingConfig{Level: "info"})
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("expected stdout output when no file is configured")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.LoggingConfig{Level: "info", File: filepath.Join(blocked, "sub", "vein.log")}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("init logger should not fail: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("expected fallback to stdout")
	}
}

func TestInitLoggerCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vein.log")
	cfg := config.LoggingConfig{Level: "debug", File: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file to be created: %v", err)
	}
}

func TestInitLoggerUsesJSONFormatterWhenConfigured(t *testing.T) {
	logger, err := InitLogger(config.LoggingConfig{Level: "info", JSON: true})
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSON formatter, got %T", logger.Formatter)
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.LoggingConfig{Level: "not-a-level"}); err == nil {
		t.Fatalf("expected an error for an unparseable log level")
	}
}
