// Package learnstore implements the Learning Store (C8): a durable JSON
// document of learned cache rules, written with a debounced-coalesced
// writer and a pre-write backup, reloaded on external edits via fsnotify.
//
// The debounce-then-atomic-write shape follows the teacher's consistent
// mutex-plus-background-goroutine idiom (internal/observer.PIDTracker,
// internal/orchestrator.Orchestrator) generalized to coalesce writes
// instead of samples; no pack exemplar debounces file writes directly, so
// the timer/coalescing logic here is authored for this spec. The
// fsnotify watch is grounded in the pack's use of
// github.com/fsnotify/fsnotify (kehao95-quine, ehrlich-b-wingthing).
package learnstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/paths"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// DebounceWindow is how long the store waits after the last mutating call
// before flushing to disk.
const DebounceWindow = 1 * time.Second

// MaxRules bounds the rule set; least-recently-hit entries are evicted
// once the cap is reached.
const MaxRules = 1000

// Classifier is the subset of classifier.Classifier the store registers
// loaded/learned rules against.
type Classifier interface {
	AddRule(rule shellmodel.ClassificationRule, priority shellmodel.RulePriority)
}

type ruleKey struct {
	pattern string
	isRegex bool
}

// Stats summarizes the current rule set.
type Stats struct {
	TotalBySource   map[shellmodel.RuleSource]int
	TotalByStrategy map[shellmodel.CacheStrategy]int
	TopHit          []shellmodel.LearnedRule
}

// Store is the persistent, debounced learned-rule document.
type Store struct {
	mu         sync.Mutex
	path       string
	backupPath string
	rules      map[ruleKey]*shellmodel.LearnedRule
	classifier Classifier
	nowFunc    func() time.Time
	logger     *slog.Logger

	timer      *time.Timer
	pendingMu  sync.Mutex
	watcher    *fsnotify.Watcher
	stopWatch  chan struct{}
	watchOnce  sync.Once
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithNowFunc overrides the clock, for deterministic tests.
func WithNowFunc(f func() time.Time) Option {
	return func(s *Store) { s.nowFunc = f }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store backed by path, backing up to backupPath before
// each write, registering loaded/learned rules against classifier.
func New(path, backupPath string, classifier Classifier, opts ...Option) *Store {
	s := &Store{
		path:       path,
		backupPath: backupPath,
		rules:      make(map[ruleKey]*shellmodel.LearnedRule),
		classifier: classifier,
		nowFunc:    time.Now,
		logger:     slog.Default(),
		stopWatch:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initialize loads the rule file, registering every rule with the
// classifier at high priority. A missing file starts empty; corrupt
// content is logged, the store starts empty, and the unreadable file is
// preserved as the backup rather than overwritten. It also starts an
// fsnotify watch on the rule file's directory for external edits.
func (s *Store) Initialize() error {
	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		// start empty
	case err != nil:
		s.logger.Warn("learnstore: failed to read rules file", "path", s.path, "error", err)
	default:
		var loaded []shellmodel.LearnedRule
		if err := json.Unmarshal(data, &loaded); err != nil {
			s.logger.Warn("learnstore: corrupt rules file, starting empty", "path", s.path, "error", err)
			if s.backupPath != "" {
				_ = os.WriteFile(s.backupPath, data, 0o600)
			}
		} else {
			s.mu.Lock()
			for i := range loaded {
				r := loaded[i]
				s.rules[ruleKey{pattern: r.Pattern, isRegex: r.IsRegex}] = &r
			}
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	for _, r := range s.rules {
		s.registerLocked(r)
	}
	s.mu.Unlock()

	s.startWatch()
	return nil
}

func (s *Store) registerLocked(r *shellmodel.LearnedRule) {
	s.classifier.AddRule(shellmodel.ClassificationRule{
		Pattern:  r.Pattern,
		IsRegex:  r.IsRegex,
		Strategy: r.Strategy,
		Reason:   r.Reason,
	}, shellmodel.PriorityHigh)
}

// SaveRule inserts or refreshes a learned rule. If a rule with the same
// (pattern, isRegex) already exists, its hit count is incremented and
// LastHitAt refreshed; otherwise it is inserted with HitCount 0. The rule
// is registered with the classifier and a debounced write is scheduled.
// If the set exceeds MaxRules, the least-recently-hit entry is evicted.
func (s *Store) SaveRule(rule shellmodel.LearnedRule) {
	key := ruleKey{pattern: rule.Pattern, isRegex: rule.IsRegex}
	now := s.nowFunc()

	s.mu.Lock()
	if existing, ok := s.rules[key]; ok {
		existing.HitCount++
		existing.LastHitAt = &now
		s.registerLocked(existing)
	} else {
		rule.CreatedAt = now
		rule.HitCount = 0
		s.rules[key] = &rule
		s.registerLocked(&rule)
		if len(s.rules) > MaxRules {
			s.evictLeastRecentlyHitLocked()
		}
	}
	s.mu.Unlock()

	s.scheduleWrite()
}

func (s *Store) evictLeastRecentlyHitLocked() {
	var oldestKey ruleKey
	var oldest time.Time
	first := true
	for k, r := range s.rules {
		t := r.CreatedAt
		if r.LastHitAt != nil {
			t = *r.LastHitAt
		}
		if first || t.Before(oldest) {
			oldest = t
			oldestKey = k
			first = false
		}
	}
	if !first {
		delete(s.rules, oldestKey)
	}
}

// RemoveRule deletes the rule matching (pattern, isRegex), scheduling a
// debounced write if one was present. Reports whether a rule was removed.
func (s *Store) RemoveRule(pattern string, isRegex bool) bool {
	key := ruleKey{pattern: pattern, isRegex: isRegex}
	s.mu.Lock()
	_, ok := s.rules[key]
	if ok {
		delete(s.rules, key)
	}
	s.mu.Unlock()
	if ok {
		s.scheduleWrite()
	}
	return ok
}

// Stats reports totals by source/strategy and the top-5 most-hit rules.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		TotalBySource:   make(map[shellmodel.RuleSource]int),
		TotalByStrategy: make(map[shellmodel.CacheStrategy]int),
	}
	all := make([]shellmodel.LearnedRule, 0, len(s.rules))
	for _, r := range s.rules {
		stats.TotalBySource[r.Source]++
		stats.TotalByStrategy[r.Strategy]++
		all = append(all, *r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].HitCount > all[j].HitCount })
	if len(all) > 5 {
		all = all[:5]
	}
	stats.TopHit = all
	return stats
}

// scheduleWrite (re)starts the debounce timer; only the last call within
// DebounceWindow results in a write.
func (s *Store) scheduleWrite() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(DebounceWindow, func() {
		if err := s.flush(); err != nil {
			s.logger.Warn("learnstore: flush failed", "error", err)
		}
	})
}

// Flush forces any pending debounced write to complete immediately.
func (s *Store) Flush() error {
	s.pendingMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pendingMu.Unlock()
	return s.flush()
}

func (s *Store) flush() error {
	s.mu.Lock()
	all := make([]shellmodel.LearnedRule, 0, len(s.rules))
	for _, r := range s.rules {
		all = append(all, *r)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Pattern < all[j].Pattern })
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return paths.AtomicWrite(s.path, data, s.backupPath)
}

// startWatch begins an fsnotify watch on the rule file's directory,
// reloading the file into the classifier on every Write or Create event
// for the rule file. Those events include the ones caused by this
// store's own flushes, which are reloaded as well. Failure to start the
// watcher is logged, not fatal.
func (s *Store) startWatch() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("learnstore: fsnotify unavailable, external edits won't be picked up", "error", err)
		return
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		s.logger.Warn("learnstore: failed to watch rules directory", "dir", dir, "error", err)
		w.Close()
		return
	}
	s.watcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Name == s.path && (event.Op&(fsnotify.Write|fsnotify.Create) != 0) {
					s.reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("learnstore: fsnotify error", "error", err)
			case <-s.stopWatch:
				return
			}
		}
	}()
}

func (s *Store) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var loaded []shellmodel.LearnedRule
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Warn("learnstore: ignoring corrupt external edit", "path", s.path, "error", err)
		return
	}
	s.mu.Lock()
	s.rules = make(map[ruleKey]*shellmodel.LearnedRule, len(loaded))
	for i := range loaded {
		r := loaded[i]
		s.rules[ruleKey{pattern: r.Pattern, isRegex: r.IsRegex}] = &r
		s.registerLocked(&r)
	}
	s.mu.Unlock()
}

// Close stops the fsnotify watch and flushes any pending write.
func (s *Store) Close() error {
	s.watchOnce.Do(func() { close(s.stopWatch) })
	if s.watcher != nil {
		s.watcher.Close()
	}
	return s.Flush()
}

