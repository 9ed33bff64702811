// Package accountpolicy implements the Provider Account Policy classifier
// (C6): it turns a normalized signal plus provider identity context into a
// concrete remediation action for the dispatcher and pool manager.
package accountpolicy

import (
	"strconv"
	"strings"
	"time"

	"github.com/llmgatewaycore/gateway/internal/signal"
)

// Action is the remediation the dispatcher should take.
type Action string

const (
	ActionNone             Action = "none"
	ActionRefreshThenRetry Action = "refresh_then_retry"
	ActionCooldown         Action = "cooldown"
	ActionQuarantine       Action = "quarantine"
	ActionSwitchCredential Action = "switch_credential"
	ActionRetrySame        Action = "retry_same"
)

// AuthStyle distinguishes providers whose auth_invalid is fixed by a token
// refresh (OAuth-like) from providers where it means the credential is dead.
type AuthStyle string

const (
	AuthStyleOAuth  AuthStyle = "oauth"
	AuthStyleBearer AuthStyle = "bearer"
)

// Identity carries the provider context needed to pick a remediation.
type Identity struct {
	ProviderType string
	AuthStyle    AuthStyle
}

// Hints lets an adapter override specific flags explicitly (honored last).
type Hints struct {
	ShouldSwitchCredential *bool
	MarkNeedRefresh        *bool
	SkipErrorCount         *bool
	Retryable              *bool
}

// Defaults configures the cooldown durations used absent response headers.
type Defaults struct {
	QuotaCooldown Cooldown
	RateCooldown  Cooldown
}

// Cooldown is a simple default duration holder so callers can tune per-signal defaults.
type Cooldown struct {
	Duration time.Duration
}

// DefaultDefaults returns the spec's suggested defaults: quota_exceeded
// cools down longer than rate_limited.
func DefaultDefaults() Defaults {
	return Defaults{
		QuotaCooldown: Cooldown{Duration: 10 * time.Minute},
		RateCooldown:  Cooldown{Duration: 30 * time.Second},
	}
}

// ResponseHeaders is the subset of upstream headers consulted for a
// cooldown duration override.
type ResponseHeaders struct {
	RetryAfter        string
	RateLimitResetRaw string
}

// Decision is the account-policy remediation for one observed signal.
type Decision struct {
	Action                   Action
	ShouldSwitchCredential    bool
	ShouldRefreshCredential   bool
	MarkNeedRefresh           bool
	MarkUnhealthy             bool
	MarkUnhealthyImmediately  bool
	CooldownUntil             time.Time
	Retryable                 bool
	SkipErrorCount            bool
	AlreadyMarkedUnhealthy    bool
}

// Evaluate implements the remediation rules table from §4.6.
func Evaluate(obs signal.Observation, identity Identity, retryAttempt int, defaults Defaults, headers ResponseHeaders, hints Hints) Decision {
	var d Decision

	switch obs.Signal {
	case signal.AuthInvalid:
		if identity.AuthStyle == AuthStyleOAuth {
			d = Decision{Action: ActionRefreshThenRetry, ShouldRefreshCredential: true, MarkNeedRefresh: true, Retryable: true, SkipErrorCount: true}
		} else {
			d = Decision{Action: ActionQuarantine, MarkUnhealthyImmediately: true, Retryable: false}
		}
	case signal.QuotaExceeded:
		until := cooldownFromHeaders(headers, defaults.QuotaCooldown.Duration)
		d = Decision{Action: ActionCooldown, CooldownUntil: until, Retryable: false}
	case signal.RateLimited:
		until := cooldownFromHeaders(headers, defaults.RateCooldown.Duration)
		d = Decision{Action: ActionCooldown, CooldownUntil: until, Retryable: false}
	case signal.Suspended, signal.Banned:
		d = Decision{Action: ActionQuarantine, MarkUnhealthyImmediately: true, Retryable: false}
	case signal.NetworkTransient:
		if retryAttempt <= 0 {
			d = Decision{Action: ActionRetrySame, Retryable: true}
		} else {
			d = Decision{Action: ActionSwitchCredential, ShouldSwitchCredential: true, Retryable: true}
		}
	case signal.Unknown:
		if obs.StatusCode >= 500 && obs.StatusCode < 600 {
			d = Decision{Action: ActionSwitchCredential, ShouldSwitchCredential: true, Retryable: true}
		} else {
			d = Decision{Action: ActionNone, Retryable: false}
		}
	default:
		d = Decision{Action: ActionNone, Retryable: false}
	}

	if hints.ShouldSwitchCredential != nil {
		d.ShouldSwitchCredential = *hints.ShouldSwitchCredential
	}
	if hints.MarkNeedRefresh != nil {
		d.MarkNeedRefresh = *hints.MarkNeedRefresh
	}
	if hints.SkipErrorCount != nil {
		d.SkipErrorCount = *hints.SkipErrorCount
	}
	if hints.Retryable != nil {
		d.Retryable = *hints.Retryable
	}
	return d
}

// cooldownFromHeaders parses Retry-After (seconds or HTTP-date) or an
// x-ratelimit-reset style header (numeric unix seconds or ISO-8601),
// falling back to def.
func cooldownFromHeaders(h ResponseHeaders, def time.Duration) time.Time {
	now := time.Now()
	if ra := strings.TrimSpace(h.RetryAfter); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			return now.Add(time.Duration(secs) * time.Second)
		}
		if t, err := time.Parse(time.RFC1123, ra); err == nil {
			return t
		}
	}
	if rr := strings.TrimSpace(h.RateLimitResetRaw); rr != "" {
		if secs, err := strconv.ParseInt(rr, 10, 64); err == nil {
			if secs > 1_000_000_000 {
				return time.Unix(secs, 0)
			}
			return now.Add(time.Duration(secs) * time.Second)
		}
		if t, err := time.Parse(time.RFC3339, rr); err == nil {
			return t
		}
	}
	return now.Add(def)
}

// NeverRetryable reports whether a client-visible error class should never
// be retried regardless of adapter hints (§7).
func NeverRetryable(class string) bool {
	switch class {
	case "bad_request", "banned", "suspended":
		return true
	default:
		return false
	}
}
