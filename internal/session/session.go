// Package session implements the Session Manager (C11): named shell
// sessions with a working directory, environment, and bounded command
// history, persisted per-session with debounced writes.
//
// Persistence follows wingthing's internal/history.Store one-file-per-ID
// idiom (non-teacher pack grounding, JSON MarshalIndent + WriteFile keyed
// by ID), generalized with the teacher's debounce-then-atomic-write shape
// already established in internal/learnstore for this module.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/paths"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// MaxHistory bounds a session's retained command history.
const MaxHistory = 1000

// DebounceWindow is how long a session's disk write waits after the last
// mutating call before flushing.
const DebounceWindow = 1 * time.Second

// ErrDefaultSessionUndeletable is returned by Delete for the default
// session's ID.
var ErrDefaultSessionUndeletable = fmt.Errorf("the default session cannot be deleted")

// ErrNotFound is returned when a session ID is unknown.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("session %q not found", e.ID) }

// BackgroundKiller is the subset of bgprocess.Manager used to cascade a
// session deletion into killing its background processes.
type BackgroundKiller interface {
	KillAll(sessionID string)
}

type entry struct {
	mu      sync.Mutex
	session shellmodel.Session
	timer   *time.Timer
}

// Manager creates, retrieves, updates, and deletes sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry

	dataDir string
	bg      BackgroundKiller
	nowFunc func() time.Time
	idFunc  func() string
	logger  *slog.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithNowFunc overrides the clock, for deterministic tests.
func WithNowFunc(f func() time.Time) Option {
	return func(m *Manager) { m.nowFunc = f }
}

// WithIDFunc overrides session ID generation, for deterministic tests.
func WithIDFunc(f func() string) Option {
	return func(m *Manager) { m.idFunc = f }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager persisting sessions under dataDir, cascading
// deletions into bg.
func New(dataDir string, bg BackgroundKiller, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*entry),
		dataDir:  dataDir,
		bg:       bg,
		nowFunc:  time.Now,
		idFunc:   func() string { return uuid.NewString() },
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Initialize loads persisted sessions from dataDir and ensures the
// default session exists.
func (m *Manager) Initialize() error {
	if m.dataDir != "" {
		entries, err := os.ReadDir(m.dataDir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read %s: %w", m.dataDir, err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(m.dataDir, e.Name()))
			if err != nil {
				m.logger.Warn("session: failed to read persisted session", "file", e.Name(), "error", err)
				continue
			}
			var s shellmodel.Session
			if err := json.Unmarshal(data, &s); err != nil {
				m.logger.Warn("session: ignoring corrupt persisted session", "file", e.Name(), "error", err)
				continue
			}
			m.mu.Lock()
			m.sessions[s.ID] = &entry{session: s}
			m.mu.Unlock()
		}
	}

	if _, ok := m.Get(shellmodel.DefaultSessionID); !ok {
		now := m.nowFunc()
		home, _ := os.UserHomeDir()
		s := shellmodel.Session{
			ID:         shellmodel.DefaultSessionID,
			Name:       shellmodel.DefaultSessionID,
			CWD:        home,
			Env:        map[string]string{},
			Shell:      defaultShell(),
			CreatedAt:  now,
			LastUsedAt: now,
		}
		m.mu.Lock()
		m.sessions[s.ID] = &entry{session: s}
		m.mu.Unlock()
		m.scheduleWrite(s.ID)
	}
	return nil
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Create makes a new named session rooted at cwd with env, returning its
// record.
func (m *Manager) Create(name, cwd string, env map[string]string) shellmodel.Session {
	now := m.nowFunc()
	if env == nil {
		env = map[string]string{}
	}
	s := shellmodel.Session{
		ID:         m.idFunc(),
		Name:       name,
		CWD:        cwd,
		Env:        env,
		Shell:      defaultShell(),
		CreatedAt:  now,
		LastUsedAt: now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = &entry{session: s}
	m.mu.Unlock()
	m.scheduleWrite(s.ID)
	return s
}

// Get returns the session for id.
func (m *Manager) Get(id string) (shellmodel.Session, bool) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return shellmodel.Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, true
}

// List returns every tracked session.
func (m *Manager) List() []shellmodel.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]shellmodel.Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		e.mu.Lock()
		out = append(out, e.session)
		e.mu.Unlock()
	}
	return out
}

// AddToHistory appends a command record to id's history, trimming to
// MaxHistory and refreshing LastUsedAt, then schedules a debounced write.
func (m *Manager) AddToHistory(id string, h shellmodel.HistoryEntry) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return &ErrNotFound{ID: id}
	}

	e.mu.Lock()
	e.session.History = append(e.session.History, h)
	if len(e.session.History) > MaxHistory {
		e.session.History = e.session.History[len(e.session.History)-MaxHistory:]
	}
	e.session.LastUsedAt = m.nowFunc()
	e.mu.Unlock()

	m.scheduleWrite(id)
	return nil
}

// History returns up to limit most recent history records for id (all of
// them if limit <= 0).
func (m *Manager) History(id string, limit int) ([]shellmodel.HistoryEntry, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.session.History
	if limit > 0 && limit < len(h) {
		h = h[len(h)-limit:]
	}
	out := make([]shellmodel.HistoryEntry, len(h))
	copy(out, h)
	return out, nil
}

// Delete removes a session and cascades into killing its background
// processes. The default session cannot be deleted.
func (m *Manager) Delete(id string) error {
	if id == shellmodel.DefaultSessionID {
		return ErrDefaultSessionUndeletable
	}

	m.mu.Lock()
	_, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return &ErrNotFound{ID: id}
	}

	if m.bg != nil {
		m.bg.KillAll(id)
	}
	if m.dataDir != "" {
		_ = os.Remove(filepath.Join(m.dataDir, id+".json"))
	}
	return nil
}

// scheduleWrite (re)starts id's per-session debounce timer.
func (m *Manager) scheduleWrite(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(DebounceWindow, func() {
		if err := m.writeNow(id); err != nil {
			m.logger.Warn("session: write failed", "id", id, "error", err)
		}
	})
	e.mu.Unlock()
}

func (m *Manager) writeNow(id string) error {
	if m.dataDir == "" {
		return nil
	}
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return paths.AtomicWrite(filepath.Join(m.dataDir, id+".json"), data, "")
}

// FlushPendingSaves forces every session's debounced write to complete
// immediately.
func (m *Manager) FlushPendingSaves() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id, e := range m.sessions {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.mu.Unlock()
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.writeNow(id); err != nil {
			return fmt.Errorf("flush session %s: %w", id, err)
		}
	}
	return nil
}
