package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sandbox.IdleTimeout != 2*time.Second || cfg.Sandbox.PollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected watchdog defaults: %+v", cfg.Sandbox)
	}
	if cfg.Sandbox.Launcher != "docker" || cfg.Sandbox.PermissionFlag == "" {
		t.Fatalf("sandbox must default to an isolated launcher: %+v", cfg.Sandbox)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bytescript.yaml")
	data := []byte("server:\n  addr: \":9000\"\nsandbox:\n  launcher: local\n  hardTimeout: 12s\nexecutor:\n  caseTimeout: 3s\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BYTESCRIPT_DB_DRIVER", "postgres")
	t.Setenv("BYTESCRIPT_MAX_CONCURRENT", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Sandbox.Launcher != "local" {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Sandbox.HardTimeout != 12*time.Second || cfg.Executor.CaseTimeout != 3*time.Second {
		t.Fatalf("durations not parsed: %+v %+v", cfg.Sandbox, cfg.Executor)
	}
	if cfg.Database.Driver != "postgres" || cfg.Executor.MaxConcurrent != 3 {
		t.Fatalf("env overrides not applied: %+v", cfg.Database)
	}
}

func TestValidateRejectsUnknownLauncher(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.Launcher = "wasm"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}
