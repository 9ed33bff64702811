package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const defaultFlushDebounce = 500 * time.Millisecond

// Store is the persisted map of credential -> lifecycle record plus the
// bounded event log. All mutating operations are serialized by mu so
// concurrent observations for the same or different credentials are
// linearized through a single writer.
type Store struct {
	mu         sync.Mutex
	path       string
	maxEvents  int
	debounce   time.Duration
	credentials map[CredentialID]*Record
	events      []*Event // ring buffer, oldest first

	dirty     bool
	flushTimer *time.Timer

	watcher *fsnotify.Watcher
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDebounce overrides the default 500ms flush debounce.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// WithMaxEvents overrides the default ring buffer capacity (5000).
func WithMaxEvents(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

// NewStore constructs a Store backed by the snapshot file at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:        path,
		maxEvents:   5000,
		debounce:    defaultFlushDebounce,
		credentials: make(map[CredentialID]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadFromDisk loads the snapshot, tolerating an absent or empty file by
// starting from an empty state (invariant 6).
func (s *Store) LoadFromDisk() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		log.Warnf("lifecycle: read %s failed, starting fresh: %v", s.path, err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warnf("lifecycle: parse %s failed, discarding corrupt snapshot: %v", s.path, err)
		return nil
	}

	for _, rec := range snap.Credentials {
		if rec == nil || rec.CredentialID == "" {
			continue
		}
		if rec.State == "" {
			rec.State = StateUnknown
		}
		s.credentials[rec.CredentialID] = rec
	}
	s.events = nil
	for _, ev := range snap.Events {
		if ev == nil {
			continue
		}
		// invariant 1: drop events referencing credentials absent at load time
		if _, ok := s.credentials[ev.CredentialID]; !ok {
			continue
		}
		s.events = append(s.events, ev)
	}
	s.trimEventsLocked()
	return nil
}

// InitializeFromProviderPools merges in credentials discovered from the
// provider pool configuration, preserving any existing persisted state and
// deriving an initial state for unseen credentials.
func (s *Store) InitializeFromProviderPools(creds []PoolCredentialSeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, seed := range creds {
		if _, exists := s.credentials[seed.CredentialID]; exists {
			continue
		}
		rec := &Record{
			CredentialID: seed.CredentialID,
			State:        deriveInitialState(seed),
			FirstSeenAt:  now,
			UpdatedAt:    now,
		}
		if seed.Disabled {
			rec.State = StateDisabled
		} else if !seed.ScheduledRecovery.IsZero() && seed.ScheduledRecovery.After(now) {
			t := seed.ScheduledRecovery
			rec.CooldownUntil = &t
		}
		s.credentials[seed.CredentialID] = rec
	}
	s.markDirtyLocked()
}

// PoolCredentialSeed is the minimal view of a pool entry needed to derive an
// initial lifecycle record.
type PoolCredentialSeed struct {
	CredentialID      CredentialID
	Disabled          bool
	NeedsRefresh      bool
	ScheduledRecovery time.Time
	Unhealthy         bool
}

func deriveInitialState(seed PoolCredentialSeed) State {
	switch {
	case seed.Disabled:
		return StateDisabled
	case seed.NeedsRefresh:
		return StateNeedsRefresh
	case !seed.ScheduledRecovery.IsZero() && seed.ScheduledRecovery.After(time.Now()):
		return StateCooldown
	case seed.Unhealthy:
		return StateQuarantined
	default:
		return StateHealthy
	}
}

// UpsertCredential shallow-merges mutations into a credential's record,
// creating it if absent, and bumps UpdatedAt.
func (s *Store) UpsertCredential(id CredentialID, mutate func(*Record)) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.credentials[id]
	if !ok {
		rec = &Record{CredentialID: id, State: StateUnknown, FirstSeenAt: time.Now().UTC()}
		s.credentials[id] = rec
	}
	if mutate != nil {
		mutate(rec)
	}
	rec.UpdatedAt = time.Now().UTC()
	s.markDirtyLocked()
	return rec.Clone()
}

// AppendEvent pushes an event onto the log and trims to maxEvents.
func (s *Store) AppendEvent(ev *Event) error {
	if ev == nil {
		return fmt.Errorf("lifecycle: nil event")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[ev.CredentialID]; !ok {
		return fmt.Errorf("lifecycle: unknown credential %s", ev.CredentialID)
	}
	if ev.EventID == "" {
		ev.EventID = SynthesizeEventID(ev.Timestamp, string(ev.CredentialID)+ev.SignalType)
	}
	s.events = append(s.events, ev)
	s.trimEventsLocked()
	s.markDirtyLocked()
	return nil
}

func (s *Store) trimEventsLocked() {
	if s.maxEvents <= 0 || len(s.events) <= s.maxEvents {
		return
	}
	excess := len(s.events) - s.maxEvents
	s.events = s.events[excess:]
}

// GetCredential returns a copy of the record, or nil if unknown.
func (s *Store) GetCredential(id CredentialID) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials[id].Clone()
}

// CredentialFilter narrows GetAllCredentials results.
type CredentialFilter struct {
	ProviderType   string
	LifecycleState State
}

// GetAllCredentials returns copies of records matching the filter.
func (s *Store) GetAllCredentials(filter CredentialFilter) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, 0, len(s.credentials))
	for id, rec := range s.credentials {
		if filter.ProviderType != "" && id.ProviderType() != filter.ProviderType {
			continue
		}
		if filter.LifecycleState != "" && rec.State != filter.LifecycleState {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out
}

// EventFilter narrows GetRecentEvents results.
type EventFilter struct {
	CredentialID CredentialID
	ProviderType string
	SignalType   string
}

// GetRecentEvents returns up to limit most-recent events matching filter,
// newest first. limit is clamped to [1,1000].
func (s *Store) GetRecentEvents(filter EventFilter, limit int) []*Event {
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := s.events[i]
		if filter.CredentialID != "" && ev.CredentialID != filter.CredentialID {
			continue
		}
		if filter.ProviderType != "" && ev.CredentialID.ProviderType() != filter.ProviderType {
			continue
		}
		if filter.SignalType != "" && ev.SignalType != filter.SignalType {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	return out
}

// GetSummary returns per-state credential counts.
func (s *Store) GetSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{States: make(map[State]int)}
	for _, rec := range s.credentials {
		sum.Total++
		sum.States[rec.State]++
	}
	return sum
}

func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.flushTimer = nil
		s.mu.Unlock()
		if err := s.FlushNow(); err != nil {
			log.Warnf("lifecycle: debounced flush failed: %v", err)
		}
	})
}

// FlushNow writes the whole snapshot to disk if dirty. Write errors are
// logged and the dirty flag remains set so a later flush can retry.
func (s *Store) FlushNow() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snap := Snapshot{
		Version:     1,
		GeneratedAt: time.Now().UTC(),
		Credentials: make([]*Record, 0, len(s.credentials)),
		Events:      append([]*Event(nil), s.events...),
	}
	ids := make([]CredentialID, 0, len(s.credentials))
	for id := range s.credentials {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		snap.Credentials = append(snap.Credentials, s.credentials[id])
	}
	path := s.path
	s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("lifecycle: marshal snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("lifecycle: mkdir %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("lifecycle: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("lifecycle: rename %s: %w", tmp, err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// WatchForExternalEdits arms an fsnotify watch on the snapshot file's
// directory and reloads on external writes (e.g. an operator hand-editing
// the file, or a manual release applied out of process).
func (s *Store) WatchForExternalEdits() error {
	dir := filepath.Dir(s.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("lifecycle: new watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("lifecycle: watch %s: %w", dir, err)
	}
	s.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.mu.Lock()
				if s.dirty {
					// our own pending write; the file will reflect it shortly
					s.mu.Unlock()
					continue
				}
				s.mu.Unlock()
				if err := s.LoadFromDisk(); err != nil {
					log.Warnf("lifecycle: reload after external edit failed: %v", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("lifecycle: watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if any.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
