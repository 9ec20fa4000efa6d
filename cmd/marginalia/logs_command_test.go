package main

import (
	"os"
	"path/filepath"
	"testing"

	"marginalia/internal/logging"
)

func TestLogsCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log entries")

	path := filepath.Join(env.cfg.Paths.LogDir, logging.LogFileName)
	content := "INFO session started session_id=s-1\nINFO session started session_id=s-2\nWARN session failed session_id=s-1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("logs -n 1: %v", err)
	}
	requireContains(t, out, "session failed")
	requireNotContains(t, out, "s-2")

	out, _, err = runCLI(t, []string{"logs", "--session", "s-1"}, env.configPath)
	if err != nil {
		t.Fatalf("logs --session: %v", err)
	}
	requireContains(t, out, "session started session_id=s-1")
	requireNotContains(t, out, "s-2")
}
