package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSetsBuiltInValues(t *testing.T) {
	cfg := Default()
	if cfg.MaxOutputLines <= 0 {
		t.Errorf("MaxOutputLines = %d, want > 0", cfg.MaxOutputLines)
	}
	if cfg.CommandTimeout <= 0 {
		t.Errorf("CommandTimeout = %v, want > 0", cfg.CommandTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxOutputLines != Default().MaxOutputLines {
		t.Errorf("expected defaults when config file is missing")
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "disableCache: true\nmaxOutputLines: 500\nlogLevel: debug\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DisableCache {
		t.Error("expected DisableCache = true")
	}
	if cfg.MaxOutputLines != 500 {
		t.Errorf("MaxOutputLines = %d, want 500", cfg.MaxOutputLines)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	// Fields absent from the YAML keep their defaults.
	if cfg.CommandTimeout != Default().CommandTimeout {
		t.Errorf("CommandTimeout = %v, want default", cfg.CommandTimeout)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}

func TestApplyEnvOverridesDataDirAndDisableCache(t *testing.T) {
	t.Setenv("MACOS_SHELL_DATA_DIR", "/tmp/shelld-test-data")
	t.Setenv("MCP_DISABLE_CACHE", "true")

	cfg := Default().ApplyEnv()
	if cfg.DataDir != "/tmp/shelld-test-data" {
		t.Errorf("DataDir = %q, want /tmp/shelld-test-data", cfg.DataDir)
	}
	if !cfg.DisableCache {
		t.Error("expected DisableCache = true from MCP_DISABLE_CACHE")
	}
}

func TestApplyEnvLeavesDefaultsWhenUnset(t *testing.T) {
	t.Setenv("MACOS_SHELL_DATA_DIR", "")
	t.Setenv("MCP_DISABLE_CACHE", "")

	before := Default()
	after := before.ApplyEnv()
	if after.DataDir != before.DataDir {
		t.Errorf("DataDir changed without env override: %q vs %q", after.DataDir, before.DataDir)
	}
	if after.DisableCache {
		t.Error("DisableCache should stay false without the env override")
	}
}
