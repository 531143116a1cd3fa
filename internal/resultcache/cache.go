// Package resultcache implements the Result Cache (C5): a TTL + LRU store
// keyed by (cwd, command) digest, strategy-aware via the classifier. It is
// the first thing the enhancer consults for a foreground command and the
// thing it populates after a fresh success.
//
// The eviction core is hashicorp/golang-lru/v2, grounded on the pack's
// references to that library (other_examples/manifests/hazyhaar-GoClode,
// .../PayRpc-Bitcoin_Sprint_Production_Final_2); the TTL-and-strategy layer
// on top follows spec.md §4.5 and is authored in the teacher's idiom of
// small typed result structs (internal/model.Result) plus explicit
// stats/event counters.
package resultcache

import (
	"regexp"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// DefaultMaxEntries bounds the cache when not otherwise configured.
const DefaultMaxEntries = 2000

// Classifier is the subset of classifier.Classifier the cache depends on.
type Classifier interface {
	Classify(command string) shellmodel.Classification
}

// EventKind enumerates the observability events the cache emits.
type EventKind string

const (
	EventHit          EventKind = "cache:hit"
	EventMiss         EventKind = "cache:miss"
	EventSet          EventKind = "cache:set"
	EventSkip         EventKind = "cache:skip"
	EventExpired      EventKind = "cache:expired"
	EventCleared      EventKind = "cache:cleared"
	EventClearedAll   EventKind = "cache:cleared_all"
)

// Event is one observability notification from the cache.
type Event struct {
	Kind    EventKind
	Command string
	CWD     string
}

type entry struct {
	command string
	cwd     string
	result  shellmodel.CachedResult
}

// Cache is a TTL + LRU result cache keyed by (cwd, command) digest.
type Cache struct {
	mu         sync.Mutex
	classifier Classifier
	lru        *lru.Cache[shellmodel.Key, *entry]
	nowFunc    func() time.Time
	onEvent    func(Event)

	hits, misses, sets, skips, expirations, evictions int64
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithNowFunc overrides the clock, for deterministic tests.
func WithNowFunc(f func() time.Time) Option {
	return func(c *Cache) { c.nowFunc = f }
}

// WithEventSink registers a callback invoked synchronously for every
// cache:* event.
func WithEventSink(f func(Event)) Option {
	return func(c *Cache) { c.onEvent = f }
}

// New creates a Cache bounded to maxEntries (DefaultMaxEntries if <= 0),
// consulting classifier for strategy decisions.
func New(classifier Classifier, maxEntries int, opts ...Option) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache{classifier: classifier, nowFunc: time.Now}
	for _, o := range opts {
		o(c)
	}
	// golang-lru runs this callback in the goroutine that called Add,
	// Remove or Purge, and every such call here is made with c.mu held, so
	// the counter is already guarded; locking c.mu again would deadlock.
	l, err := lru.NewWithEvict[shellmodel.Key, *entry](maxEntries, func(_ shellmodel.Key, _ *entry) {
		c.evictions++
	})
	if err != nil {
		// Only non-positive sizes cause an error, and maxEntries is
		// normalized above, so this cannot happen in practice.
		panic(err)
	}
	c.lru = l
	return c
}

func (c *Cache) emit(kind EventKind, command, cwd string) {
	if c.onEvent != nil {
		c.onEvent(Event{Kind: kind, Command: command, CWD: cwd})
	}
}

// Get looks up a cached result for (command, cwd). A miss is returned if
// the command is not cacheable, absent, or expired (in which case the
// entry is also deleted).
func (c *Cache) Get(command, cwd string) (shellmodel.CachedResult, bool) {
	if !c.classifier.Classify(command).ShouldCache() {
		c.recordMiss()
		c.emit(EventMiss, command, cwd)
		return shellmodel.CachedResult{}, false
	}

	key := shellmodel.DeriveKey(command, cwd)
	c.mu.Lock()
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		c.mu.Unlock()
		c.emit(EventMiss, command, cwd)
		return shellmodel.CachedResult{}, false
	}

	now := c.nowFunc()
	if e.result.Expired(now) {
		c.lru.Remove(key)
		c.expirations++
		c.mu.Unlock()
		c.emit(EventExpired, command, cwd)
		return shellmodel.CachedResult{}, false
	}

	e.result.AccessCount++
	c.hits++
	c.mu.Unlock()
	c.emit(EventHit, command, cwd)
	return e.result, true
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Set stores a fresh result for (command, cwd), replacing any existing
// entry. If the command's strategy is NEVER, the call is a silent no-op
// (beyond the cache:skip event).
func (c *Cache) Set(command, cwd string, result shellmodel.ExecResult) {
	cl := c.classifier.Classify(command)
	if !cl.ShouldCache() {
		c.mu.Lock()
		c.skips++
		c.mu.Unlock()
		c.emit(EventSkip, command, cwd)
		return
	}

	key := shellmodel.DeriveKey(command, cwd)
	c.mu.Lock()
	c.lru.Add(key, &entry{
		command: command,
		cwd:     cwd,
		result: shellmodel.CachedResult{
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
			StoredAt: c.nowFunc(),
			Strategy: cl.Strategy,
		},
	})
	c.sets++
	c.mu.Unlock()
	c.emit(EventSet, command, cwd)
}

// ClearCommand removes the entry for command. If cwd is empty, every
// resident entry whose normalized command matches is removed, across all
// working directories. Returns the number of entries removed.
func (c *Cache) ClearCommand(command, cwd string) int {
	normalized := shellmodel.NormalizeCommand(command)

	c.mu.Lock()
	removed := 0
	if cwd != "" {
		key := shellmodel.DeriveKey(command, cwd)
		if c.lru.Remove(key) {
			removed = 1
		}
	} else {
		for _, k := range c.lru.Keys() {
			e, ok := c.lru.Peek(k)
			if !ok {
				continue
			}
			if shellmodel.NormalizeCommand(e.command) == normalized {
				c.lru.Remove(k)
				removed++
			}
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.emit(EventCleared, command, cwd)
	}
	return removed
}

// ClearPattern removes every entry whose command matches re. Returns the
// number of entries removed.
func (c *Cache) ClearPattern(re *regexp.Regexp) int {
	c.mu.Lock()
	removed := 0
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if re.MatchString(e.command) {
			c.lru.Remove(k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.emit(EventCleared, re.String(), "")
	}
	return removed
}

// ClearAll empties the cache.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
	c.emit(EventClearedAll, "", "")
}

// EvictKey removes the entry for (command, cwd) directly by key, used by
// the enhancer when the duplicate detector fires.
func (c *Cache) EvictKey(key shellmodel.Key) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}

// Explain describes how command would be classified and whether it is
// currently cached for cwd.
func (c *Cache) Explain(command, cwd string) (classification shellmodel.Classification, cached bool) {
	classification = c.classifier.Classify(command)
	if cwd == "" {
		return classification, false
	}
	key := shellmodel.DeriveKey(command, cwd)
	c.mu.Lock()
	_, ok := c.lru.Peek(key)
	c.mu.Unlock()
	return classification, ok
}

// Stats reports aggregate cache counters.
func (c *Cache) Stats() shellmodel.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return shellmodel.CacheStats{
		Entries:     c.lru.Len(),
		Hits:        c.hits,
		Misses:      c.misses,
		Sets:        c.sets,
		Skips:       c.skips,
		Expirations: c.expirations,
		Evictions:   c.evictions,
		HitRate:     rate,
	}
}
