package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sd-launcher/internal/config"
)

func TestNewWithConfigWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Logging: config.LoggingCfg{Dir: dir, Level: "debug", RotationDays: 30}}

	logger := NewWithConfig(cfg)
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Errorf("level = %v, want debug", logger.GetLevel())
	}
	componentLogger := Component(logger, "test")
	componentLogger.Info().Msg("hello")

	data, err := os.ReadFile(filepath.Join(dir, logFile))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}

func TestNewWithOutputKeepsConsoleOffStdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Logging: config.LoggingCfg{Level: "info"}}

	logger := NewWithOutput(cfg, &buf)
	componentLogger := Component(logger, "oneshot")
	componentLogger.Info().Msg("command finished")

	got := buf.String()
	if !strings.Contains(got, `"component":"oneshot"`) || !strings.Contains(got, "command finished") {
		t.Errorf("output = %q, want the tagged message", got)
	}

	buf.Reset()
	bootLogger := NewTo(&buf)
	bootLogger.Warn().Msg("boot")
	if !strings.Contains(buf.String(), "boot") {
		t.Errorf("NewTo output = %q, want the boot message", buf.String())
	}
}

func TestRotateLogsIfNeeded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, logFile)
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().AddDate(0, 0, -10)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	rotateLogsIfNeeded(path, 5)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("log file should have been rotated away, stat err = %v", err)
	}
	matches, _ := filepath.Glob(path + ".*")
	// The rotated file is itself older than the cutoff, so cleanup removes it.
	if len(matches) != 0 {
		t.Errorf("expected stale rotated logs to be cleaned, found %v", matches)
	}
}

func TestRotateKeepsFreshLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, logFile)
	if err := os.WriteFile(path, []byte("fresh\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rotateLogsIfNeeded(path, 5)

	if _, err := os.Stat(path); err != nil {
		t.Errorf("fresh log file should stay in place: %v", err)
	}
}
