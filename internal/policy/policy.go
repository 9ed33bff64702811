// Package policy implements the pure credential state machine: given a
// current lifecycle state and a normalized signal, it computes the next
// state and an admission-relevant decision. It performs no I/O.
package policy

import (
	"github.com/llmgatewaycore/gateway/internal/lifecycle"
	"github.com/llmgatewaycore/gateway/internal/signal"
)

// Mode gates how aggressively the engine's decisions are enforced by callers.
type Mode string

const (
	ModeObserve             Mode = "observe"
	ModeEnforceSoft         Mode = "enforce_soft"
	ModeEnforceStrict       Mode = "enforce_strict"
	ModeProtectiveEmergency Mode = "protective_emergency"
)

// Context carries the extra inputs a few signals need to compute the target state.
type Context struct {
	// TargetState is consulted for manual_release.
	TargetState lifecycle.State
}

// Result is the outcome of evaluating one signal against one current state.
type Result struct {
	Decision      lifecycle.Decision
	PreviousState lifecycle.State
	NextState     lifecycle.State
	Changed       bool
	Mode          Mode
}

// Evaluate computes {decision, previousState, nextState, changed, mode} for
// a signal observed while a credential is in currentState, in the given mode.
func Evaluate(currentState lifecycle.State, sig signal.Type, mode Mode, ctx Context) Result {
	if currentState == "" {
		currentState = lifecycle.StateUnknown
	}
	next := targetState(currentState, sig, ctx)
	changed := next != currentState

	res := Result{PreviousState: currentState, NextState: next, Changed: changed, Mode: mode}
	switch {
	case mode == ModeObserve:
		res.Decision = lifecycle.DecisionObserveOnly
	case changed:
		res.Decision = lifecycle.DecisionTransition
	default:
		res.Decision = lifecycle.DecisionNoStateChange
	}
	return res
}

// targetState implements the signal -> target-state table from the spec.
func targetState(current lifecycle.State, sig signal.Type, ctx Context) lifecycle.State {
	switch sig {
	case signal.Success, signal.ProviderMarkedHealthy, signal.ProviderEnabled:
		return lifecycle.StateHealthy
	case signal.ManualRelease:
		if ctx.TargetState == lifecycle.StateHealthy || ctx.TargetState == lifecycle.StateNeedsRefresh {
			return ctx.TargetState
		}
		return lifecycle.StateHealthy
	case signal.AuthInvalid, signal.ProviderNeedsRefresh:
		return lifecycle.StateNeedsRefresh
	case signal.QuotaExceeded:
		return lifecycle.StateCooldown
	case signal.RateLimited, signal.NetworkTransient, signal.IdentityCollision:
		return current
	case signal.Suspended:
		return lifecycle.StateSuspended
	case signal.Banned:
		return lifecycle.StateBanned
	case signal.ProviderDisabled:
		return lifecycle.StateDisabled
	case signal.ProviderMarkedUnhealthy:
		if current == lifecycle.StateHealthy || current == lifecycle.StateUnknown {
			return lifecycle.StateQuarantined
		}
		return current
	default:
		return current
	}
}

// Blocked reports whether admission should be refused for a state under mode,
// independent of any specific signal. It implements the gating tiers from §4.3.
func Blocked(state lifecycle.State, mode Mode) bool {
	switch mode {
	case ModeObserve:
		return false
	case ModeEnforceSoft:
		return state == lifecycle.StateSuspended || state == lifecycle.StateBanned
	case ModeEnforceStrict:
		return state == lifecycle.StateSuspended || state == lifecycle.StateBanned ||
			state == lifecycle.StateDisabled || state == lifecycle.StateQuarantined
	case ModeProtectiveEmergency:
		return state != lifecycle.StateHealthy
	default:
		return state == lifecycle.StateSuspended || state == lifecycle.StateBanned
	}
}
