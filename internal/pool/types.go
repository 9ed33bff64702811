// Package pool implements the Provider Pool Manager: a per-provider-type
// ordered pool of credential configs with health bookkeeping, selection,
// cooldown timers, and whole-file persistence.
package pool

import (
	"encoding/json"
	"time"
)

// CredentialConfig is a single pool entry's static configuration.
type CredentialConfig struct {
	UUID           string            `json:"uuid"`
	CustomName     string            `json:"custom_name,omitempty"`
	AccountID      string            `json:"account_id,omitempty"`
	AuthMethod     string            `json:"auth_method,omitempty"`
	MachineCode    string            `json:"machine_code,omitempty"`
	BrowserProfile string            `json:"browser_profile,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	IsDisabled     bool              `json:"is_disabled,omitempty"`
	EndpointOverride string          `json:"endpoint_override,omitempty"`
	ProxyURL       string            `json:"proxy_url,omitempty"`
	CredentialFile string            `json:"credential_file,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// RuntimeCounters is the mutable per-entry bookkeeping the selector consults.
type RuntimeCounters struct {
	UsageCount            int64     `json:"usage_count"`
	ErrorCount            int64     `json:"error_count"`
	RefreshCount          int64     `json:"refresh_count"`
	LastUsed              time.Time `json:"last_used,omitempty"`
	NeedsRefresh          bool      `json:"needs_refresh,omitempty"`
	Unhealthy             bool      `json:"unhealthy,omitempty"`
	ScheduledRecoveryTime time.Time `json:"scheduled_recovery_time,omitempty"`
	LastErrorMessage      string    `json:"last_error_message,omitempty"`
	DrainMode             bool      `json:"drain_mode,omitempty"`
}

// Entry couples a credential's static config with its runtime counters.
// On disk the two are flattened into a single JSON object per §6 ("a
// credentialConfig must contain uuid; all other keys are optional runtime
// state or transport knobs"), so a restart or an fsnotify reload after an
// external edit restores usageCount/errorCount/scheduledRecoveryTime/
// needsRefresh/unhealthy/drainMode instead of losing them.
type Entry struct {
	Config  CredentialConfig
	Runtime RuntimeCounters
}

// MarshalJSON flattens Config and Runtime into one JSON object.
func (e Entry) MarshalJSON() ([]byte, error) {
	type flattened struct {
		CredentialConfig
		RuntimeCounters
	}
	return json.Marshal(flattened{e.Config, e.Runtime})
}

// UnmarshalJSON restores Config and Runtime from one flattened JSON object.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var flattened struct {
		CredentialConfig
		RuntimeCounters
	}
	if err := json.Unmarshal(data, &flattened); err != nil {
		return err
	}
	e.Config = flattened.CredentialConfig
	e.Runtime = flattened.RuntimeCounters
	return nil
}

// Healthy reports whether the entry can currently be selected: enabled, not
// flagged unhealthy, and outside any cooldown window.
func (e *Entry) Healthy(now time.Time) bool {
	if e.Config.IsDisabled || e.Runtime.DrainMode {
		return false
	}
	if e.Runtime.Unhealthy {
		return false
	}
	if !e.Runtime.ScheduledRecoveryTime.IsZero() && e.Runtime.ScheduledRecoveryTime.After(now) {
		return false
	}
	return true
}

// File is the on-disk pools file shape: {providerType: [credentialConfig, ...]},
// each entry a flattened Entry (config fields plus runtime state).
type File map[string][]Entry

// HealthCheckResult is returned by a forced or gated single-provider health check.
type HealthCheckResult struct {
	Success      bool
	ModelName    string
	ErrorMessage string
}

// CooldownSpec configures ApplyProviderCooldown: either an explicit absolute
// instant or a duration from now.
type CooldownSpec struct {
	DurationMs   int64
	CooldownUntil time.Time
}
