package jam

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

const (
	maxCodeAttempts = 10
	defaultHostName = "Host"
)

// StoreConfig holds the lifecycle timings of a Store.
type StoreConfig struct {
	EmptyGrace    time.Duration
	SweepInterval time.Duration
	StaleAfter    time.Duration
	ActiveWindow  time.Duration
	Settings      Settings

	Clock  clock.Clock
	Logger logrus.FieldLogger
	// NewCode overrides code generation. Used by tests to force collisions.
	NewCode func() string
	// OnDelete runs once for every session removed from the store.
	OnDelete func(*Session)
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EmptyGrace:    60 * time.Second,
		SweepInterval: 5 * time.Minute,
		StaleAfter:    30 * time.Minute,
		ActiveWindow:  5 * time.Minute,
		Settings:      DefaultSettings(),
	}
}

// Store is the process-wide registry of live sessions.
type Store struct {
	cfg StoreConfig
	log logrus.FieldLogger

	mu       sync.RWMutex
	sessions map[string]*Session

	timersMu sync.Mutex
	timers   map[string]*clock.Timer
}

func NewStore(cfg StoreConfig) *Store {
	def := DefaultStoreConfig()
	if cfg.EmptyGrace <= 0 {
		cfg.EmptyGrace = def.EmptyGrace
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = def.ActiveWindow
	}
	if cfg.Settings == (Settings{}) {
		cfg.Settings = def.Settings
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.NewCode == nil {
		cfg.NewCode = NewCode
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Store{
		cfg:      cfg,
		log:      cfg.Logger.WithField("component", "jam.store"),
		sessions: make(map[string]*Session),
		timers:   make(map[string]*clock.Timer),
	}
}

// Create registers a new empty session. The host name defaults to "Host".
// A session nobody joins is removed after the empty grace period.
func (st *Store) Create(hostName string) (*Session, error) {
	if hostName == "" {
		hostName = defaultHostName
	}

	st.mu.Lock()
	var code string
	for i := 0; i < maxCodeAttempts; i++ {
		c := st.cfg.NewCode()
		if _, taken := st.sessions[c]; !taken {
			code = c
			break
		}
	}
	if code == "" {
		st.mu.Unlock()
		return nil, fmt.Errorf("create session after %d attempts: %w", maxCodeAttempts, ErrCodeSpaceExhausted)
	}

	hostID := fmt.Sprintf("host-%d", st.cfg.Clock.Now().UnixMilli())
	s := NewSession(code, hostID, hostName, st.cfg.Settings, st.cfg.Clock)
	st.sessions[code] = s
	st.mu.Unlock()

	st.ScheduleEmptyDelete(code)
	st.log.WithFields(logrus.Fields{"session": code, "host": hostName}).Info("session created")
	return s, nil
}

// Get looks up a session by code, ignoring case and surrounding spaces.
func (st *Store) Get(code string) (*Session, error) {
	code = NormalizeCode(code)
	if !validCode(code) {
		return nil, fmt.Errorf("get %q: %w", code, ErrSessionNotFound)
	}
	st.mu.RLock()
	s, ok := st.sessions[code]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %q: %w", code, ErrSessionNotFound)
	}
	return s, nil
}

// ListActive returns sessions that have participants or recent activity,
// newest first.
func (st *Store) ListActive() []Summary {
	now := st.cfg.Clock.Now()
	st.mu.RLock()
	out := make([]Summary, 0, len(st.sessions))
	for _, s := range st.sessions {
		if s.ParticipantCount() > 0 || now.Sub(s.LastActivity()) <= st.cfg.ActiveWindow {
			out = append(out, s.Summary())
		}
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Delete removes a session. Deleting an unknown code is a no-op.
func (st *Store) Delete(code string) {
	code = NormalizeCode(code)
	st.CancelEmptyDelete(code)

	st.mu.Lock()
	s, ok := st.sessions[code]
	delete(st.sessions, code)
	st.mu.Unlock()

	if ok {
		st.deleted(s, "deleted")
	}
}

func (st *Store) deleted(s *Session, reason string) {
	st.log.WithFields(logrus.Fields{"session": s.Code(), "reason": reason}).Info("session removed")
	if st.cfg.OnDelete != nil {
		st.cfg.OnDelete(s)
	}
}

// ScheduleEmptyDelete arms the grace timer for code, replacing any pending
// one. When it fires the session is removed only if it is still empty.
func (st *Store) ScheduleEmptyDelete(code string) {
	code = NormalizeCode(code)
	st.timersMu.Lock()
	defer st.timersMu.Unlock()

	if t, ok := st.timers[code]; ok {
		t.Stop()
	}
	var t *clock.Timer
	t = st.cfg.Clock.AfterFunc(st.cfg.EmptyGrace, func() {
		st.timersMu.Lock()
		if st.timers[code] != t {
			st.timersMu.Unlock()
			return
		}
		delete(st.timers, code)
		st.timersMu.Unlock()

		st.mu.Lock()
		s, ok := st.sessions[code]
		if !ok || s.ParticipantCount() > 0 {
			st.mu.Unlock()
			return
		}
		delete(st.sessions, code)
		st.mu.Unlock()

		st.deleted(s, "empty")
	})
	st.timers[code] = t
}

// CancelEmptyDelete disarms the grace timer for code, if any.
func (st *Store) CancelEmptyDelete(code string) {
	code = NormalizeCode(code)
	st.timersMu.Lock()
	defer st.timersMu.Unlock()
	if t, ok := st.timers[code]; ok {
		t.Stop()
		delete(st.timers, code)
	}
}

func (st *Store) hasPendingDelete(code string) bool {
	st.timersMu.Lock()
	defer st.timersMu.Unlock()
	_, ok := st.timers[code]
	return ok
}

// Sweep removes empty sessions idle for longer than StaleAfter and returns
// how many were removed.
func (st *Store) Sweep() int {
	now := st.cfg.Clock.Now()

	st.mu.Lock()
	var stale []*Session
	for code, s := range st.sessions {
		if s.ParticipantCount() == 0 && now.Sub(s.LastActivity()) > st.cfg.StaleAfter {
			stale = append(stale, s)
			delete(st.sessions, code)
		}
	}
	st.mu.Unlock()

	for _, s := range stale {
		st.CancelEmptyDelete(s.Code())
		st.deleted(s, "stale")
	}
	return len(stale)
}

// Run sweeps periodically until ctx is done.
func (st *Store) Run(ctx context.Context) {
	ticker := st.cfg.Clock.Ticker(st.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Sweep(); n > 0 {
				st.log.WithField("removed", n).Info("swept stale sessions")
			}
		}
	}
}

// Shutdown stops all pending timers.
func (st *Store) Shutdown() {
	st.timersMu.Lock()
	defer st.timersMu.Unlock()
	for code, t := range st.timers {
		t.Stop()
		delete(st.timers, code)
	}
}
