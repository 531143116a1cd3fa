// Package dedup implements the in-flight Deduplicator (C6): callers
// submitting the same (command, cwd) while a prior invocation is still
// running, or within the dedup window after it finished, share the single
// underlying execution instead of spawning a second one.
//
// The broadcast-future shape -- one owner goroutine runs the command and
// closes a channel that every coalesced waiter reads from -- generalizes
// the executor.BCCExecutor.Run done/exited channel pair (one goroutine
// writes a result, any number of goroutines observe completion without
// consuming the value) from a single in-flight process to many
// independent callers of the same key.
package dedup

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// DefaultWindow is how long a finished execution is still offered to new
// callers of the same key as a "free ride" instead of re-running.
const DefaultWindow = 10 * time.Second

// DefaultBatchWindow is how long a high-dedup command's first caller waits
// before launching, giving near-simultaneous callers a chance to coalesce.
const DefaultBatchWindow = 100 * time.Millisecond

// sweepInterval is the spacing between pendingEntries garbage sweeps.
const sweepInterval = 30 * time.Second

// highDedupCommands are normalized command heads known to be requested
// redundantly by multiple concurrent tools/agents; first callers of these
// wait out BatchWindow to maximize coalescing.
var highDedupCommands = map[string]bool{
	"ls":               true,
	"pwd":              true,
	"git status":       true,
	"git branch":       true,
	"npm list":         true,
	"cat package.json": true,
	"cat README.md":    true,
	"whoami":           true,
	"date":             true,
}

// coalescableBases are command heads whose invocations against the same
// key are safe to merge even when arguments differ only in ways that do
// not change the observable result (handled upstream by NormalizeCommand).
// The set is exposed only through Coalescable; Execute does not consult
// it, and merging still happens only for identical normalized keys.
var coalescableBases = map[string]bool{
	"ls":   true,
	"cat":  true,
	"head": true,
	"tail": true,
	"wc":   true,
	"file": true,
}

// Runner executes a command and produces a result. It is supplied by the
// caller (ultimately the configured Executor) so this package stays
// decoupled from process-spawning details.
type Runner func(ctx context.Context, command, cwd string) (shellmodel.ExecResult, error)

type pendingEntry struct {
	mu       sync.Mutex
	done     chan struct{}
	result   shellmodel.ExecResult
	err      error
	finished time.Time
	waiters  int
}

func newPendingEntry() *pendingEntry {
	return &pendingEntry{done: make(chan struct{})}
}

func (p *pendingEntry) finish(result shellmodel.ExecResult, err error, at time.Time) {
	p.mu.Lock()
	p.result = result
	p.err = err
	p.finished = at
	p.mu.Unlock()
	close(p.done)
}

func (p *pendingEntry) snapshot() (shellmodel.ExecResult, error, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err, p.finished
}

// Deduplicator coalesces concurrent and closely-spaced identical command
// executions behind a single Runner invocation.
type Deduplicator struct {
	mu          sync.Mutex
	pending     map[shellmodel.Key]*pendingEntry
	window      time.Duration
	batchWindow time.Duration
	nowFunc     func() time.Time
	sleepFunc   func(time.Duration)

	totalCommands   int64
	dedupedCommands int64

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// Option configures a Deduplicator at construction time.
type Option func(*Deduplicator)

// WithNowFunc overrides the clock, for deterministic tests.
func WithNowFunc(f func() time.Time) Option {
	return func(d *Deduplicator) { d.nowFunc = f }
}

// WithSleepFunc overrides the batch-window sleep, for deterministic tests.
func WithSleepFunc(f func(time.Duration)) Option {
	return func(d *Deduplicator) { d.sleepFunc = f }
}

// WithWindow overrides DefaultWindow.
func WithWindow(w time.Duration) Option {
	return func(d *Deduplicator) { d.window = w }
}

// WithBatchWindow overrides DefaultBatchWindow.
func WithBatchWindow(w time.Duration) Option {
	return func(d *Deduplicator) { d.batchWindow = w }
}

// New creates a Deduplicator with the default windows unless overridden.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		pending:     make(map[shellmodel.Key]*pendingEntry),
		window:      DefaultWindow,
		batchWindow: DefaultBatchWindow,
		nowFunc:     time.Now,
		sleepFunc:   time.Sleep,
		stopSweep:   make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// StartSweeper launches a background goroutine that periodically drops
// pending entries older than 2x the dedup window. Call Stop to end it.
func (d *Deduplicator) StartSweeper() {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.sweep()
			case <-d.stopSweep:
				return
			}
		}
	}()
}

// Stop ends the sweeper goroutine, if started.
func (d *Deduplicator) Stop() {
	d.sweepOnce.Do(func() { close(d.stopSweep) })
}

func (d *Deduplicator) sweep() {
	cutoff := d.nowFunc().Add(-2 * d.window)
	d.mu.Lock()
	for k, p := range d.pending {
		select {
		case <-p.done:
			_, _, finished := p.snapshot()
			if finished.Before(cutoff) {
				delete(d.pending, k)
			}
		default:
			// still in flight, leave it
		}
	}
	d.mu.Unlock()
}

// Execute runs command (via run) against cwd, coalescing with any
// in-flight or recently-finished execution sharing the same key.
func (d *Deduplicator) Execute(ctx context.Context, command, cwd string, run Runner) (shellmodel.ExecResult, error) {
	key := shellmodel.DeriveKey(command, cwd)
	normalized := shellmodel.NormalizeCommand(command)

	d.mu.Lock()
	d.totalCommands++
	if existing, ok := d.pending[key]; ok {
		select {
		case <-existing.done:
			_, _, finished := existing.snapshot()
			if d.nowFunc().Sub(finished) <= d.window {
				existing.mu.Lock()
				existing.waiters++
				existing.mu.Unlock()
				d.dedupedCommands++
				d.mu.Unlock()
				result, err, _ := existing.snapshot()
				return result, err
			}
			// Stale: fall through and start a fresh execution below.
		default:
			existing.mu.Lock()
			existing.waiters++
			existing.mu.Unlock()
			d.dedupedCommands++
			d.mu.Unlock()
			<-existing.done
			result, err, _ := existing.snapshot()
			return result, err
		}
	}

	entry := newPendingEntry()
	d.pending[key] = entry
	batch := d.batchWindow
	if !commandHead(normalized, highDedupCommands) {
		batch = 0
	}
	d.mu.Unlock()

	if batch > 0 {
		d.sleepFunc(batch)
	}

	result, err := run(ctx, command, cwd)
	entry.finish(result, err, d.nowFunc())
	return result, err
}

// Stats reports aggregate counters accumulated since construction.
func (d *Deduplicator) Stats() shellmodel.DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	var rate float64
	if d.totalCommands > 0 {
		rate = float64(d.dedupedCommands) / float64(d.totalCommands) * 100
	}
	pending := 0
	for _, p := range d.pending {
		select {
		case <-p.done:
		default:
			pending++
		}
	}
	return shellmodel.DedupStats{
		Total:            d.totalCommands,
		Deduped:          d.dedupedCommands,
		SavedExecutions:  d.dedupedCommands,
		DedupRate:        rate,
		CurrentlyPending: pending,
	}
}

// Coalescable reports whether base (the first whitespace-delimited token
// of a normalized command) is one of the coalescable bases. Neither the
// deduplicator nor the enhancer calls it when merging requests.
func Coalescable(base string) bool {
	return coalescableBases[strings.ToLower(base)]
}

func commandHead(normalized string, set map[string]bool) bool {
	if set[normalized] {
		return true
	}
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return false
	}
	if set[fields[0]] {
		return true
	}
	if len(fields) >= 2 {
		two := strings.Join(fields[:2], " ")
		if set[two] {
			return true
		}
	}
	return false
}

// HighDedupCommands returns the configured high-dedup command set in
// deterministic order, for diagnostics/Explain surfaces.
func HighDedupCommands() []string {
	out := make([]string, 0, len(highDedupCommands))
	for k := range highDedupCommands {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
