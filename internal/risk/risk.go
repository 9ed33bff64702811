// Package risk implements the Risk Manager: the mediator between error/
// success observations and the lifecycle store, gated admission decisions,
// manual releases, and identity-collision detection.
package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/llmgatewaycore/gateway/internal/lifecycle"
	"github.com/llmgatewaycore/gateway/internal/policy"
	"github.com/llmgatewaycore/gateway/internal/signal"
)

// PolicyConfig holds the mutable, hot-reloadable risk policy knobs.
type PolicyConfig struct {
	Mode               policy.Mode
	IdentityWindow     time.Duration
}

// DefaultPolicyConfig returns sane defaults: enforce_soft mode, 10 minute
// identity-collision window.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{Mode: policy.ModeEnforceSoft, IdentityWindow: 10 * time.Minute}
}

type identityClaim struct {
	providerType string
	uuid         string
	lastSeenAt   time.Time
}

// Manager mediates signals, admission decisions, manual releases, and
// identity-collision detection for a single lifecycle Store. Intended to be
// constructed once and threaded through the dispatcher as an explicit
// dependency rather than a package-level singleton.
type Manager struct {
	store *lifecycle.Store

	cfgMu sync.RWMutex
	cfg   PolicyConfig

	identMu sync.Mutex
	idents  map[string]identityClaim
}

// NewManager constructs a Manager bound to store.
func NewManager(store *lifecycle.Store, cfg PolicyConfig) *Manager {
	return &Manager{
		store:  store,
		cfg:    cfg,
		idents: make(map[string]identityClaim),
	}
}

// Context carries the optional request-scoped fields attached to events.
type Context struct {
	RequestID         string
	Source            string
	Model             string
	Streamed          bool
	IdentityProfileID string
	TargetState       lifecycle.State
	// CooldownUntil, when set, is the absolute instant a quota_exceeded
	// observation should cool down until (e.g. derived from a Retry-After
	// header by the caller). Zero falls back to defaultCooldown so the
	// lifecycle record's cooldownUntil stays coherent with whatever
	// deadline the pool manager actually persisted (§4.5).
	CooldownUntil time.Time
}

// AdmissionDecision is the gated answer to "may I dispatch on this credential now?".
type AdmissionDecision struct {
	Blocked        bool
	Mode           policy.Mode
	LifecycleState lifecycle.State
	Reason         string
}

// ObserveSuccess records a successful call for cred.
func (m *Manager) ObserveSuccess(cred lifecycle.CredentialID, ctx Context) lifecycle.Event {
	return m.ObserveSignal(cred, signal.Success, ctx)
}

// ObserveError normalizes err (already-classified Observation-style input)
// and routes it through ObserveSignal.
func (m *Manager) ObserveError(cred lifecycle.CredentialID, in signal.Input, hint signal.Hint, ctx Context) lifecycle.Event {
	obs := signal.Classify(in, hint)
	ctx.Source = firstNonEmpty(ctx.Source, "error_normalizer")
	ev := m.observe(cred, obs.Signal, ctx)
	ev.ReasonCode = obs.ReasonCode
	ev.StatusCode = obs.StatusCode
	ev.RawMessage = obs.RawMessage
	return ev
}

// ObserveSignal evaluates sig for cred and records the resulting event.
func (m *Manager) ObserveSignal(cred lifecycle.CredentialID, sig signal.Type, ctx Context) lifecycle.Event {
	return m.observe(cred, sig, ctx)
}

func (m *Manager) observe(cred lifecycle.CredentialID, sig signal.Type, ctx Context) lifecycle.Event {
	m.cfgMu.RLock()
	mode := m.cfg.Mode
	m.cfgMu.RUnlock()

	rec := m.store.GetCredential(cred)
	var current lifecycle.State = lifecycle.StateUnknown
	if rec != nil {
		current = rec.State
	} else {
		m.store.UpsertCredential(cred, func(r *lifecycle.Record) {})
	}

	result := policy.Evaluate(current, sig, mode, policy.Context{TargetState: ctx.TargetState})

	m.store.UpsertCredential(cred, func(r *lifecycle.Record) {
		r.State = result.NextState
		r.LastSignalType = string(sig)
		if sig == signal.QuotaExceeded {
			until := ctx.CooldownUntil
			if until.IsZero() {
				until = time.Now().Add(defaultCooldown)
			}
			r.CooldownUntil = &until
		} else if result.NextState == lifecycle.StateHealthy || result.NextState == lifecycle.StateNeedsRefresh {
			r.CooldownUntil = nil
		}
	})

	ev := &lifecycle.Event{
		Timestamp:         time.Now().UTC(),
		CredentialID:      cred,
		SignalType:        string(sig),
		Source:            ctx.Source,
		Mode:              string(mode),
		Decision:          result.Decision,
		PreviousState:     result.PreviousState,
		NextState:         result.NextState,
		Changed:           result.Changed,
		RequestID:         ctx.RequestID,
		Streamed:          ctx.Streamed,
		Model:             ctx.Model,
		IdentityProfileID: ctx.IdentityProfileID,
	}
	_ = m.store.AppendEvent(ev)
	return *ev
}

const defaultCooldown = 60 * time.Second

// ObserveIdentityClaim records that credential cred has claimed
// identityProfileID. If a different credential claimed the same profile
// within the configured window, a non-state-changing identity_collision
// signal is emitted against cred and the event's CollidedWith is set.
func (m *Manager) ObserveIdentityClaim(cred lifecycle.CredentialID, identityProfileID string, ctx Context) *lifecycle.Event {
	if identityProfileID == "" {
		return nil
	}
	m.cfgMu.RLock()
	window := m.cfg.IdentityWindow
	m.cfgMu.RUnlock()
	if window <= 0 {
		window = 10 * time.Minute
	}

	now := time.Now()
	m.identMu.Lock()
	m.pruneIdentitiesLocked(now, window)
	prior, existed := m.idents[identityProfileID]
	m.idents[identityProfileID] = identityClaim{
		providerType: cred.ProviderType(),
		uuid:         cred.UUID(),
		lastSeenAt:   now,
	}
	m.identMu.Unlock()

	if !existed {
		return nil
	}
	priorCred := lifecycle.NewCredentialID(prior.providerType, prior.uuid)
	if priorCred == cred {
		return nil
	}
	ctx.IdentityProfileID = identityProfileID
	ev := m.observe(cred, signal.IdentityCollision, ctx)
	ev.CollidedWith = priorCred
	return &ev
}

func (m *Manager) pruneIdentitiesLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-2 * window)
	for k, v := range m.idents {
		if v.lastSeenAt.Before(cutoff) {
			delete(m.idents, k)
		}
	}
}

// Admission answers whether cred may be dispatched on right now.
func (m *Manager) Admission(cred lifecycle.CredentialID) AdmissionDecision {
	m.cfgMu.RLock()
	mode := m.cfg.Mode
	m.cfgMu.RUnlock()

	rec := m.store.GetCredential(cred)
	state := lifecycle.StateUnknown
	if rec != nil {
		state = rec.State
		if state == lifecycle.StateCooldown && rec.CooldownUntil != nil && rec.CooldownUntil.Before(time.Now()) {
			state = lifecycle.StateHealthy
		}
	}
	blocked := policy.Blocked(state, mode)
	reason := ""
	if blocked {
		reason = fmt.Sprintf("credential %s is %s under mode %s", cred, state, mode)
	}
	return AdmissionDecision{Blocked: blocked, Mode: mode, LifecycleState: state, Reason: reason}
}

// Summary returns lifecycle store counts.
func (m *Manager) Summary() lifecycle.Summary { return m.store.GetSummary() }

// Credentials returns matching credential records.
func (m *Manager) Credentials(filter lifecycle.CredentialFilter) []*lifecycle.Record {
	return m.store.GetAllCredentials(filter)
}

// Events returns matching events.
func (m *Manager) Events(filter lifecycle.EventFilter, limit int) []*lifecycle.Event {
	return m.store.GetRecentEvents(filter, limit)
}

// UpdatePolicyConfig atomically replaces the policy configuration.
func (m *Manager) UpdatePolicyConfig(cfg PolicyConfig) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
}

// ReleaseRequest describes an operator-initiated manual release.
type ReleaseRequest struct {
	CredentialID        lifecycle.CredentialID
	TargetState         lifecycle.State
	Reason              string
	ConfirmCredentialID lifecycle.CredentialID
	Force               bool
}

// ErrReleaseRejected is returned for every manual-release validation failure.
type ErrReleaseRejected struct{ Msg string }

func (e *ErrReleaseRejected) Error() string { return e.Msg }

// ManualReleaseCredential validates and applies an operator release, per the
// boundary conditions in §4.4 and §8.
func (m *Manager) ManualReleaseCredential(req ReleaseRequest) (*lifecycle.Event, error) {
	if len(strings.TrimSpace(req.Reason)) < 8 {
		return nil, &ErrReleaseRejected{Msg: "manual release rejected: reason must be at least 8 characters"}
	}
	if req.ConfirmCredentialID != req.CredentialID {
		return nil, &ErrReleaseRejected{Msg: "manual release rejected: confirmCredentialId does not match"}
	}
	if req.TargetState != lifecycle.StateHealthy && req.TargetState != lifecycle.StateNeedsRefresh {
		return nil, &ErrReleaseRejected{Msg: "manual release rejected: targetState must be healthy or needs_refresh"}
	}

	rec := m.store.GetCredential(req.CredentialID)
	if rec == nil {
		return nil, &ErrReleaseRejected{Msg: "manual release rejected: unknown credential"}
	}
	switch rec.State {
	case lifecycle.StateQuarantined, lifecycle.StateSuspended, lifecycle.StateBanned, lifecycle.StateCooldown, lifecycle.StateNeedsRefresh:
		// eligible
	default:
		return nil, &ErrReleaseRejected{Msg: fmt.Sprintf("manual release rejected: credential is %s, not releasable", rec.State)}
	}
	if (rec.State == lifecycle.StateSuspended || rec.State == lifecycle.StateBanned) && !req.Force {
		return nil, &ErrReleaseRejected{Msg: "manual release rejected: force required to release from suspended/banned"}
	}
	if rec.State == lifecycle.StateCooldown && rec.CooldownUntil != nil && rec.CooldownUntil.After(time.Now()) && !req.Force {
		return nil, &ErrReleaseRejected{Msg: "manual release rejected: force required, cooldown still in the future"}
	}

	ev := m.observe(req.CredentialID, signal.ManualRelease, Context{
		Source:      "control_plane",
		TargetState: req.TargetState,
	})
	ev.Decision = lifecycle.DecisionTransition
	return &ev, nil
}

// RecordControlPlaneAction appends a control-plane event without altering
// lifecycle state (e.g. logging an operator annotation).
func (m *Manager) RecordControlPlaneAction(cred lifecycle.CredentialID, note string, ctx Context) error {
	ev := &lifecycle.Event{
		Timestamp:    time.Now().UTC(),
		CredentialID: cred,
		SignalType:   "control_plane_action",
		Source:       "control_plane",
		Decision:     lifecycle.DecisionControlAction,
		RawMessage:   note,
		RequestID:    ctx.RequestID,
	}
	return m.store.AppendEvent(ev)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
