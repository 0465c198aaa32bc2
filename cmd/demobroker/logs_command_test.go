package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"demobroker/internal/testsupport"
)

func TestLogsCommandPrintsTrailingLines(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "one\ntwo\nthree\n"
	if err := os.WriteFile(filepath.Join(cfg.Paths.LogDir, "resolver.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "resolver", "-n", "2"}, configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.TrimSpace(out) != "two\nthree" {
		t.Fatalf("unexpected output %q", out)
	}

	if _, _, err := runCLI(t, []string{"logs", "nope"}, configPath); err == nil {
		t.Fatal("expected unknown process to be rejected")
	}
}
