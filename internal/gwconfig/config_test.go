package gwconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultFillsTimeoutsAndMode(t *testing.T) {
	cfg := Default()
	if cfg.LogMode != LogModeConsole {
		t.Errorf("LogMode = %q, want console", cfg.LogMode)
	}
	if cfg.Risk.Mode != "enforce_soft" || cfg.Risk.IdentityWindow != 10*time.Minute {
		t.Errorf("Risk = %+v", cfg.Risk)
	}
	if cfg.Cooldowns.Quota != 10*time.Minute || cfg.Cooldowns.Rate != 30*time.Second {
		t.Errorf("Cooldowns = %+v", cfg.Cooldowns)
	}
	if cfg.Telemetry.Timeout != 5*time.Second {
		t.Errorf("Telemetry.Timeout = %v", cfg.Telemetry.Timeout)
	}
}

func TestValidateRequiresAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Paths.Pools = "pools.json"
	cfg.Paths.Lifecycle = "lifecycle.json"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when required-api-key is unset")
	}
	cfg.RequiredAPIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidateRequiresPoolsAndLifecyclePaths(t *testing.T) {
	cfg := Default()
	cfg.RequiredAPIKey = "k"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when paths.pools is unset")
	}
	cfg.Paths.Pools = "pools.json"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when paths.lifecycle is unset")
	}
}

func TestLoadParsesYAMLAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
required-api-key: secret
default-provider: openai
paths:
  pools: pools.json
  lifecycle: lifecycle.json
providers: [openai, claude]
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RequiredAPIKey != "secret" || cfg.DefaultProvider != "openai" {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Providers) != 2 {
		t.Errorf("Providers = %v", cfg.Providers)
	}
	// Unset-in-YAML fields still carry Default()'s values.
	if cfg.Cooldowns.Quota != 10*time.Minute {
		t.Errorf("Cooldowns.Quota = %v, want the default", cfg.Cooldowns.Quota)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`default-provider: openai`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to surface Validate's error for a missing required-api-key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a nonexistent config file")
	}
}
