package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/llmgatewaycore/gateway/internal/lifecycle"
	"github.com/llmgatewaycore/gateway/internal/risk"
	"github.com/llmgatewaycore/gateway/internal/signal"
	log "github.com/sirupsen/logrus"
)

// Manager owns providerStatus[providerType] = []*Entry and keeps the
// in-memory pool and the on-disk pools file strictly in sync: every
// persisted mutation rewrites the file whole, under mu.
type Manager struct {
	mu   sync.Mutex
	path string
	pools map[string][]*Entry

	risk *risk.Manager

	watcher *fsnotify.Watcher
}

// NewManager constructs a pool Manager backed by the pools file at path and
// wired to risk for lifecycle-coherent mark operations.
func NewManager(path string, riskMgr *risk.Manager) *Manager {
	return &Manager{path: path, pools: make(map[string][]*Entry), risk: riskMgr}
}

// Load reads the pools file, tolerating an absent file.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pool: read %s: %w", m.path, err)
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("pool: parse %s: %w", m.path, err)
	}
	pools := make(map[string][]*Entry, len(file))
	for providerType, fileEntries := range file {
		entries := make([]*Entry, 0, len(fileEntries))
		for _, fe := range fileEntries {
			e := fe
			entries = append(entries, &e)
		}
		pools[providerType] = entries
	}
	m.pools = pools
	return nil
}

// saveLocked rewrites the whole pools file. Caller must hold mu.
func (m *Manager) saveLocked() error {
	file := make(File, len(m.pools))
	providerTypes := make([]string, 0, len(m.pools))
	for pt := range m.pools {
		providerTypes = append(providerTypes, pt)
	}
	sort.Strings(providerTypes)
	for _, pt := range providerTypes {
		entries := m.pools[pt]
		flat := make([]Entry, 0, len(entries))
		for _, e := range entries {
			flat = append(flat, *e)
		}
		file[pt] = flat
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("pool: marshal: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("pool: mkdir: %w", err)
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pool: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, m.path)
}

func (m *Manager) credID(providerType, uuid string) lifecycle.CredentialID {
	return lifecycle.NewCredentialID(providerType, uuid)
}

// Seeds returns the lifecycle seeds for every known credential, for
// Lifecycle Store initialization.
func (m *Manager) Seeds() []lifecycle.PoolCredentialSeed {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []lifecycle.PoolCredentialSeed
	for providerType, entries := range m.pools {
		for _, e := range entries {
			out = append(out, lifecycle.PoolCredentialSeed{
				CredentialID:      m.credID(providerType, e.Config.UUID),
				Disabled:          e.Config.IsDisabled,
				NeedsRefresh:      e.Runtime.NeedsRefresh,
				ScheduledRecovery: e.Runtime.ScheduledRecoveryTime,
				Unhealthy:         e.Runtime.Unhealthy,
			})
		}
	}
	return out
}

// Add appends a new credential config to providerType's pool.
func (m *Manager) Add(providerType string, cfg CredentialConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[providerType] = append(m.pools[providerType], &Entry{Config: cfg})
	return m.saveLocked()
}

// Update replaces the config of an existing entry, preserving uuid immutability.
func (m *Manager) Update(providerType, uuid string, mutate func(*CredentialConfig)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	keep := e.Config.UUID
	mutate(&e.Config)
	e.Config.UUID = keep
	return m.saveLocked()
}

// Delete removes an entry; removes the providerType key if it was the last entry.
func (m *Manager) Delete(providerType, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.pools[providerType]
	for i, e := range entries {
		if e.Config.UUID == uuid {
			m.pools[providerType] = append(entries[:i], entries[i+1:]...)
			if len(m.pools[providerType]) == 0 {
				delete(m.pools, providerType)
			}
			return m.saveLocked()
		}
	}
	return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
}

// SetEnabled toggles the disabled flag and emits provider_enabled/disabled.
func (m *Manager) SetEnabled(providerType, uuid string, enabled bool) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	e.Config.IsDisabled = !enabled
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	sig := signal.ProviderDisabled
	if enabled {
		sig = signal.ProviderEnabled
	}
	if m.risk != nil {
		m.risk.ObserveSignal(m.credID(providerType, uuid), sig, risk.Context{Source: "pool_manager"})
	}
	return nil
}

// ResetHealth clears unhealthy/cooldown/error-count state for an entry.
func (m *Manager) ResetHealth(providerType, uuid string) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	e.Runtime.Unhealthy = false
	e.Runtime.ErrorCount = 0
	e.Runtime.ScheduledRecoveryTime = time.Time{}
	e.Runtime.LastErrorMessage = ""
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if m.risk != nil {
		m.risk.ObserveSignal(m.credID(providerType, uuid), signal.ProviderMarkedHealthy, risk.Context{Source: "pool_manager"})
	}
	return nil
}

// DeleteUnhealthy removes every unhealthy entry for providerType.
func (m *Manager) DeleteUnhealthy(providerType string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.pools[providerType]
	kept := entries[:0]
	removed := 0
	for _, e := range entries {
		if e.Runtime.Unhealthy {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.pools[providerType] = kept
	if len(m.pools[providerType]) == 0 {
		delete(m.pools, providerType)
	}
	if removed > 0 {
		if err := m.saveLocked(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// RefreshUUID replaces a credential's uuid (its own explicit mutation, not
// performed by Update).
func (m *Manager) RefreshUUID(providerType, oldUUID, newUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findLocked(providerType, oldUUID)
	if e == nil {
		return fmt.Errorf("pool: %s/%s not found", providerType, oldUUID)
	}
	e.Config.UUID = newUUID
	return m.saveLocked()
}

// Patch applies an arbitrary mutation and persists it.
func (m *Manager) Patch(providerType, uuid string, mutate func(*Entry)) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	mutate(e)
	err := m.saveLocked()
	m.mu.Unlock()
	return err
}

func (m *Manager) findLocked(providerType, uuid string) *Entry {
	for _, e := range m.pools[providerType] {
		if e.Config.UUID == uuid {
			return e
		}
	}
	return nil
}

// Select picks a healthy, enabled, non-cooldown credential for providerType,
// preferring least-used with priority as tiebreaker (round-robin by
// least-used). Returns the selected entry's uuid.
func (m *Manager) Select(providerType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var best *Entry
	for _, e := range m.pools[providerType] {
		if !e.Healthy(now) {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		if e.Runtime.UsageCount != best.Runtime.UsageCount {
			if e.Runtime.UsageCount < best.Runtime.UsageCount {
				best = e
			}
			continue
		}
		if e.Config.Priority > best.Config.Priority {
			best = e
		}
	}
	if best == nil {
		return "", fmt.Errorf("pool: no healthy credential for provider %s", providerType)
	}
	best.Runtime.UsageCount++
	best.Runtime.LastUsed = now
	return best.Config.UUID, nil
}

// MarkProviderHealthy resets error bookkeeping and notifies risk.
// preserveUsageCount leaves UsageCount untouched (used by manual release).
func (m *Manager) MarkProviderHealthy(providerType, uuid string, preserveUsageCount bool) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	e.Runtime.Unhealthy = false
	e.Runtime.ErrorCount = 0
	e.Runtime.ScheduledRecoveryTime = time.Time{}
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	_ = preserveUsageCount // UsageCount is never reset by this method regardless
	if m.risk != nil {
		m.risk.ObserveSignal(m.credID(providerType, uuid), signal.ProviderMarkedHealthy, risk.Context{Source: "pool_manager"})
	}
	return nil
}

const unhealthyThreshold = 3

// MarkProviderUnhealthy increments the error count and, once it reaches the
// threshold, flags the entry unhealthy with an optional scheduled recovery.
// Idempotent: repeated calls while already unhealthy are safe.
func (m *Manager) MarkProviderUnhealthy(providerType, uuid, errMsg string, recoverAfter time.Duration) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	e.Runtime.ErrorCount++
	e.Runtime.LastErrorMessage = signal.Redact(errMsg)
	becameUnhealthy := !e.Runtime.Unhealthy && e.Runtime.ErrorCount >= unhealthyThreshold
	if becameUnhealthy {
		e.Runtime.Unhealthy = true
		if recoverAfter > 0 {
			e.Runtime.ScheduledRecoveryTime = time.Now().Add(recoverAfter)
		}
	}
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if becameUnhealthy && m.risk != nil {
		m.risk.ObserveSignal(m.credID(providerType, uuid), signal.ProviderMarkedUnhealthy, risk.Context{Source: "pool_manager"})
	}
	return nil
}

// MarkProviderUnhealthyImmediately marks unhealthy without waiting for the
// error-count threshold, for auth-class errors.
func (m *Manager) MarkProviderUnhealthyImmediately(providerType, uuid, errMsg string) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	e.Runtime.Unhealthy = true
	e.Runtime.LastErrorMessage = signal.Redact(errMsg)
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if m.risk != nil {
		m.risk.ObserveSignal(m.credID(providerType, uuid), signal.ProviderMarkedUnhealthy, risk.Context{Source: "pool_manager"})
	}
	return nil
}

// MarkProviderNeedRefresh flags the entry as needing a token refresh.
func (m *Manager) MarkProviderNeedRefresh(providerType, uuid string) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	e.Runtime.NeedsRefresh = true
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if m.risk != nil {
		m.risk.ObserveSignal(m.credID(providerType, uuid), signal.ProviderNeedsRefresh, risk.Context{Source: "pool_manager"})
	}
	return nil
}

// ApplyProviderCooldown sets a scheduled recovery time from either an
// explicit instant or a duration, and raises quota_exceeded in risk.
func (m *Manager) ApplyProviderCooldown(providerType, uuid string, spec CooldownSpec) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	until := spec.CooldownUntil
	if until.IsZero() && spec.DurationMs > 0 {
		until = time.Now().Add(time.Duration(spec.DurationMs) * time.Millisecond)
	}
	e.Runtime.ScheduledRecoveryTime = until
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if m.risk != nil {
		m.risk.ObserveSignal(m.credID(providerType, uuid), signal.QuotaExceeded, risk.Context{Source: "pool_manager", CooldownUntil: until})
	}
	return nil
}

// ClearProviderCooldown clears a previously applied cooldown.
func (m *Manager) ClearProviderCooldown(providerType, uuid string) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	e.Runtime.ScheduledRecoveryTime = time.Time{}
	err := m.saveLocked()
	m.mu.Unlock()
	return err
}

// SetProviderDrainMode toggles whether the entry is excluded from selection
// without being marked unhealthy (used for a graceful operator-initiated drain).
func (m *Manager) SetProviderDrainMode(providerType, uuid string, drain bool) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	e.Runtime.DrainMode = drain
	err := m.saveLocked()
	m.mu.Unlock()
	return err
}

// ForceRefreshProviderCredential marks an entry for immediate refresh on next use.
func (m *Manager) ForceRefreshProviderCredential(providerType, uuid string) error {
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("pool: %s/%s not found", providerType, uuid)
	}
	e.Runtime.NeedsRefresh = true
	e.Runtime.RefreshCount++
	err := m.saveLocked()
	m.mu.Unlock()
	return err
}

// HealthChecker performs the single provider-specific probe request.
// force bypasses the per-provider checkHealth config gate (admin path).
type HealthChecker func(providerType string, cfg CredentialConfig) HealthCheckResult

// CheckHealth runs checker against a single entry. Auth-class failures
// (detected via checker's message containing "401"/"403"/"auth") trigger
// immediate unhealthy marking.
func (m *Manager) CheckHealth(providerType, uuid string, forced bool, gate func(providerType string) bool, checker HealthChecker) HealthCheckResult {
	if !forced && gate != nil && !gate(providerType) {
		return HealthCheckResult{Success: true}
	}
	m.mu.Lock()
	e := m.findLocked(providerType, uuid)
	m.mu.Unlock()
	if e == nil {
		return HealthCheckResult{Success: false, ErrorMessage: "credential not found"}
	}
	result := checker(providerType, e.Config)
	if !result.Success {
		msg := strings.ToLower(result.ErrorMessage)
		if strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "auth") {
			log.Warnf("pool: auth-class health check failure for %s/%s, marking unhealthy immediately", providerType, uuid)
			_ = m.MarkProviderUnhealthyImmediately(providerType, uuid, result.ErrorMessage)
		} else {
			_ = m.MarkProviderUnhealthy(providerType, uuid, result.ErrorMessage, 0)
		}
	} else {
		_ = m.MarkProviderHealthy(providerType, uuid, true)
	}
	return result
}

// WatchForExternalEdits arms an fsnotify watch on the pools file's directory
// and reloads on external writes (an operator hand-editing the pools file
// while the gateway is running).
func (m *Manager) WatchForExternalEdits() error {
	dir := filepath.Dir(m.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("pool: new watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("pool: watch %s: %w", dir, err)
	}
	m.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.Load(); err != nil {
					log.Warnf("pool: reload after external edit failed: %v", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("pool: watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if any.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// Entries returns a copy of a provider's entries for inspection (tests, admin listing).
func (m *Manager) Entries(providerType string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.pools[providerType]
	out := make([]Entry, len(src))
	for i, e := range src {
		out[i] = *e
	}
	return out
}
