// Package resourcesampler implements the Resource Sampler (C9):
// per-PID CPU/memory sampling for tracked background processes, with a
// short-TTL per-PID cache, a batched external query, and a circuit
// breaker that falls back to cached data when the external sampler keeps
// failing.
//
// External sampling is github.com/shirou/gopsutil/v3
// (process.NewProcess/.CPUPercent/.MemoryInfo), grounded on the pack's use
// of gopsutil in other_examples/manifests (davidolrik-overseer,
// ethereum-go-ethereum). The circuit breaker and short-TTL cache follow
// the teacher's tiered capability-gating idiom (collector/*.go
// Available() checks) applied to a sampler instead of a collector, and
// the per-PID registry shape generalizes
// internal/observer.PIDTracker's mutex-guarded map.
package resourcesampler

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// MaxProcesses caps how many PIDs a single SampleProcesses call will
// query; extras are silently dropped from the result (and the sampler
// does not report which were dropped -- callers submitting > MaxProcesses
// at once are expected to batch themselves).
const MaxProcesses = 100

// CacheTTL is how long a per-PID sample is considered fresh enough to
// skip re-querying the external sampler.
const CacheTTL = 2 * time.Second

// breakerThreshold is the number of consecutive external-sampler failures
// that opens the circuit.
const breakerThreshold = 3

// breakerCooldown is how long the circuit stays open before the next
// SampleProcesses call is allowed to probe the external sampler again.
const breakerCooldown = 30 * time.Second

// cacheEntry holds the last known-good sample for a PID.
type cacheEntry struct {
	sample   shellmodel.ResourceSample
	sampleAt time.Time
}

// gopsutilProcess is the subset of *process.Process the sampler uses,
// narrowed for testability.
type gopsutilProcess interface {
	CPUPercent() (float64, error)
	MemoryInfo() (*process.MemoryInfoStat, error)
	MemoryPercent() (float32, error)
}

// processFactory constructs a gopsutilProcess for pid; overridable in
// tests.
type processFactory func(pid int32) (gopsutilProcess, error)

func defaultProcessFactory(pid int32) (gopsutilProcess, error) {
	return process.NewProcess(pid)
}

// Sampler samples CPU/memory usage for tracked PIDs.
type Sampler struct {
	mu    sync.Mutex
	cache map[int]*cacheEntry

	consecutiveFailures int
	breakerOpenUntil    time.Time

	nowFunc    func() time.Time
	newProcess processFactory
}

// Option configures a Sampler at construction time.
type Option func(*Sampler)

// WithNowFunc overrides the clock, for deterministic tests.
func WithNowFunc(f func() time.Time) Option {
	return func(s *Sampler) { s.nowFunc = f }
}

// WithProcessFactory overrides how gopsutil process handles are
// constructed, for deterministic tests.
func WithProcessFactory(f processFactory) Option {
	return func(s *Sampler) { s.newProcess = f }
}

// New creates a Sampler.
func New(opts ...Option) *Sampler {
	s := &Sampler{
		cache:      make(map[int]*cacheEntry),
		nowFunc:    time.Now,
		newProcess: defaultProcessFactory,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SampleProcesses samples CPU/memory for pids, capped at MaxProcesses.
// PIDs with a fresh cache entry are served from cache; the rest are
// queried from the external sampler in one pass, unless the circuit
// breaker is currently open, in which case only cached data is returned.
func (s *Sampler) SampleProcesses(pids []int) map[int]shellmodel.ResourceSample {
	if len(pids) > MaxProcesses {
		pids = pids[:MaxProcesses]
	}

	now := s.nowFunc()
	result := make(map[int]shellmodel.ResourceSample, len(pids))

	var toQuery []int
	s.mu.Lock()
	breakerOpen := now.Before(s.breakerOpenUntil)
	for _, pid := range pids {
		entry, ok := s.cache[pid]
		if ok && now.Sub(entry.sampleAt) < CacheTTL {
			result[pid] = entry.sample
			continue
		}
		if breakerOpen {
			if ok {
				result[pid] = entry.sample
			}
			continue
		}
		toQuery = append(toQuery, pid)
	}
	s.mu.Unlock()

	if len(toQuery) == 0 {
		return result
	}

	failures := 0
	for _, pid := range toQuery {
		sample, err := s.sampleOne(pid, now)
		if err != nil {
			failures++
			s.mu.Lock()
			if entry, ok := s.cache[pid]; ok {
				result[pid] = entry.sample
			}
			s.mu.Unlock()
			continue
		}
		result[pid] = sample
		s.mu.Lock()
		s.cache[pid] = &cacheEntry{sample: sample, sampleAt: now}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if failures > 0 && failures == len(toQuery) {
		s.consecutiveFailures++
		if s.consecutiveFailures >= breakerThreshold {
			s.breakerOpenUntil = now.Add(breakerCooldown)
		}
	} else if failures == 0 {
		s.consecutiveFailures = 0
	}
	s.mu.Unlock()

	return result
}

func (s *Sampler) sampleOne(pid int, now time.Time) (shellmodel.ResourceSample, error) {
	proc, err := s.newProcess(int32(pid))
	if err != nil {
		return shellmodel.ResourceSample{}, err
	}

	cpuPct, err := proc.CPUPercent()
	if err != nil {
		return shellmodel.ResourceSample{}, err
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return shellmodel.ResourceSample{}, err
	}
	memPct, err := proc.MemoryPercent()
	if err != nil {
		return shellmodel.ResourceSample{}, err
	}

	var memMB float64
	if memInfo != nil {
		memMB = float64(memInfo.RSS) / (1024 * 1024)
	}

	return shellmodel.ResourceSample{
		CPUPercent: clampNonNegative(cpuPct),
		MemoryMB:   clampNonNegative(memMB),
		MemoryPct:  clampNonNegative(float64(memPct)),
		SampledAt:  now,
		Samples:    1,
	}, nil
}

// UpdateResources records a fresh sample for processID directly (e.g. one
// obtained from a caller's own measurement rather than this sampler's own
// query path), incrementing the stored sample count.
func (s *Sampler) UpdateResources(processID int, sample shellmodel.ResourceSample) shellmodel.ResourceSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[processID]
	if ok {
		sample.Samples = entry.sample.Samples + 1
	} else {
		sample.Samples = 1
	}
	s.cache[processID] = &cacheEntry{sample: sample, sampleAt: s.nowFunc()}
	return sample
}

// clampNonNegative clamps tolerant-parser results: gopsutil occasionally
// reports small negative values around process exit/restart races.
func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// TotalMemoryMB reports total system memory in MB, used by callers that
// need to convert a raw RSS into a percentage themselves. Returns 0 on
// failure.
func TotalMemoryMB() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil {
		return 0
	}
	return float64(vm.Total) / (1024 * 1024)
}
