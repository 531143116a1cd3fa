// Package dupdetect implements the Duplicate Detector (C4): for each
// command key it keeps a short sliding window of recent result
// fingerprints, and emits a duplicate-detected event when enough of them
// are identical within a time span — the signal the enhancer uses to
// learn a permanent NEVER rule.
//
// Grounded on the teacher's internal/observer/tracker.go PIDTracker: a
// small mutex-guarded per-key registry updated from many call sites,
// generalized from a set of live PIDs to a bounded sliding window of
// fingerprints per command key.
package dupdetect

import (
	"sync"
	"time"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// DefaultWindow is the number of recent fingerprints kept per key.
const DefaultWindow = 5

// DefaultThreshold is how many identical fingerprints in the window
// trigger a duplicate-detected event.
const DefaultThreshold = 3

// DefaultSpan is the default time span within which the threshold count
// must occur.
const DefaultSpan = 5 * time.Minute

// Event is emitted when repeated identical results are observed for a
// command key.
type Event struct {
	Command        string
	DuplicateCount int
	TimeSpan       time.Duration
}

type observation struct {
	fingerprint string
	at          time.Time
}

// Detector tracks recent result fingerprints per command key.
type Detector struct {
	mu        sync.Mutex
	window    int
	threshold int
	span      time.Duration
	history   map[shellmodel.Key][]observation
	nowFunc   func() time.Time
}

// New creates a Detector with the given window size, duplicate threshold,
// and time span. A non-positive window/threshold/span falls back to the
// package defaults.
func New(window, threshold int, span time.Duration) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if span <= 0 {
		span = DefaultSpan
	}
	return &Detector{
		window:    window,
		threshold: threshold,
		span:      span,
		history:   make(map[shellmodel.Key][]observation),
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the clock, for deterministic tests.
func (d *Detector) SetNowFunc(f func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nowFunc = f
}

// Record registers a fresh execution result for key and reports a
// duplicate-detected event if enough recent fingerprints for this key now
// match within the configured span.
func (d *Detector) Record(key shellmodel.Key, command string, result shellmodel.ExecResult) (*Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFunc()
	obs := append(d.history[key], observation{fingerprint: result.Fingerprint(), at: now})
	if len(obs) > d.window {
		obs = obs[len(obs)-d.window:]
	}
	d.history[key] = obs

	count, first, last := mostCommon(obs)
	if count >= d.threshold && last.Sub(first) <= d.span {
		return &Event{Command: command, DuplicateCount: count, TimeSpan: last.Sub(first)}, true
	}
	return nil, false
}

// Evict drops the tracked window for key, e.g. after the cache entry for
// it has been cleared.
func (d *Detector) Evict(key shellmodel.Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, key)
}

// mostCommon returns the count of the most frequent fingerprint in obs
// along with the first and last timestamps it occurred at.
func mostCommon(obs []observation) (count int, first, last time.Time) {
	counts := map[string]int{}
	firstSeen := map[string]time.Time{}
	lastSeen := map[string]time.Time{}
	for _, o := range obs {
		counts[o.fingerprint]++
		if _, ok := firstSeen[o.fingerprint]; !ok {
			firstSeen[o.fingerprint] = o.at
		}
		lastSeen[o.fingerprint] = o.at
	}

	best := ""
	for fp, c := range counts {
		if c > count {
			count = c
			best = fp
		}
	}
	if best == "" {
		return 0, time.Time{}, time.Time{}
	}
	return count, firstSeen[best], lastSeen[best]
}
