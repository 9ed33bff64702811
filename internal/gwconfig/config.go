// Package gwconfig loads the gateway's top-level configuration record: the
// paths, policy knobs, and feature flags every other component is built
// from (§6 External Interfaces).
package gwconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogMode selects where request/response logging is written.
type LogMode string

const (
	LogModeNone    LogMode = "none"
	LogModeConsole LogMode = "console"
	LogModeFile    LogMode = "file"
)

// Config is the gateway's top-level configuration record.
type Config struct {
	// RequiredAPIKey is the key inbound requests must present via Bearer,
	// ?key=, x-goog-api-key, or x-api-key.
	RequiredAPIKey string `yaml:"required-api-key" json:"required-api-key"`

	// DefaultProvider is used when model-name routing can't determine one.
	DefaultProvider string `yaml:"default-provider" json:"default-provider"`

	Paths Paths `yaml:"paths" json:"paths"`

	LogMode LogMode `yaml:"log-mode" json:"log-mode"`

	Risk RiskConfig `yaml:"risk" json:"risk"`

	Cooldowns CooldownConfig `yaml:"cooldowns" json:"cooldowns"`

	// ProviderProxyURLs maps providerType to an optional outbound proxy.
	ProviderProxyURLs map[string]string `yaml:"provider-proxy-urls" json:"provider-proxy-urls"`

	Features Features `yaml:"features" json:"features"`

	WSAgent WSAgentConfig `yaml:"ws-agent" json:"ws-agent"`

	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// Providers lists the configured upstream provider types. Model-list
	// fan-out merges catalogs in this order, and routing only picks types
	// listed here.
	Providers []string `yaml:"providers" json:"providers"`
}

// Paths is every file path the gateway reads or rewrites.
type Paths struct {
	Pools             string `yaml:"pools" json:"pools"`
	Lifecycle         string `yaml:"lifecycle" json:"lifecycle"`
	CredentialsDir    string `yaml:"credentials-dir" json:"credentials-dir"`
	PromptLogInbound  string `yaml:"prompt-log-inbound" json:"prompt-log-inbound"`
	PromptLogOutbound string `yaml:"prompt-log-outbound" json:"prompt-log-outbound"`
	SystemPromptFile  string `yaml:"system-prompt-file" json:"system-prompt-file"`
	LogFile           string `yaml:"log-file" json:"log-file"`
}

// RiskConfig configures the Risk Manager's admission mode and identity
// collision window.
type RiskConfig struct {
	Mode           string        `yaml:"mode" json:"mode"`
	IdentityWindow time.Duration `yaml:"identity-window" json:"identity-window"`
}

// CooldownConfig sets the default cooldown durations Provider Account
// Policy falls back to absent response headers.
type CooldownConfig struct {
	Quota time.Duration `yaml:"quota" json:"quota"`
	Rate  time.Duration `yaml:"rate" json:"rate"`
}

// Features toggles optional behavior.
type Features struct {
	AllowRunCommand  bool `yaml:"allow-run-command" json:"allow-run-command"`
	EmitToolUse      bool `yaml:"emit-tool-use" json:"emit-tool-use"`
	SystemProxy      bool `yaml:"system-proxy" json:"system-proxy"`
	ForceModelPrefix bool `yaml:"force-model-prefix" json:"force-model-prefix"`
}

// WSAgentConfig configures the coding-agent WebSocket adapter.
type WSAgentConfig struct {
	BaseURL             string `yaml:"base-url" json:"base-url"`
	SessionListEndpoint string `yaml:"session-list-endpoint" json:"session-list-endpoint"`
	CredentialFile      string `yaml:"credential-file" json:"credential-file"`
	WorkingDir          string `yaml:"working-dir" json:"working-dir"`
}

// TelemetryConfig configures the optional best-effort usage beacon.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gwconfig: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("gwconfig: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with the log mode, risk mode and identity
// window, cooldown durations and telemetry timeout pre-filled; paths are
// left empty.
func Default() *Config {
	return &Config{
		LogMode: LogModeConsole,
		Risk: RiskConfig{
			Mode:           "enforce_soft",
			IdentityWindow: 10 * time.Minute,
		},
		Cooldowns: CooldownConfig{
			Quota: 10 * time.Minute,
			Rate:  30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Validate enforces the invariants described in §6 (exit non-zero on
// unrecoverable init failure).
func (c *Config) Validate() error {
	if c.RequiredAPIKey == "" {
		return fmt.Errorf("gwconfig: required-api-key must be set")
	}
	if c.Paths.Pools == "" {
		return fmt.Errorf("gwconfig: paths.pools must be set")
	}
	if c.Paths.Lifecycle == "" {
		return fmt.Errorf("gwconfig: paths.lifecycle must be set")
	}
	return nil
}
