package resourcesampler

import (
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

type fakeProcess struct {
	cpu    float64
	memMB  uint64
	memPct float32
	err    error
}

func (f *fakeProcess) CPUPercent() (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.cpu, nil
}

func (f *fakeProcess) MemoryInfo() (*process.MemoryInfoStat, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &process.MemoryInfoStat{RSS: f.memMB * 1024 * 1024}, nil
}

func (f *fakeProcess) MemoryPercent() (float32, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.memPct, nil
}

func TestSampleProcessesSuccess(t *testing.T) {
	now := time.Unix(0, 0)
	s := New(
		WithNowFunc(func() time.Time { return now }),
		WithProcessFactory(func(pid int32) (gopsutilProcess, error) {
			return &fakeProcess{cpu: 12.5, memMB: 64, memPct: 1.5}, nil
		}),
	)

	result := s.SampleProcesses([]int{100})
	sample, ok := result[100]
	if !ok {
		t.Fatal("expected sample for pid 100")
	}
	if sample.CPUPercent != 12.5 || sample.MemoryMB != 64 {
		t.Errorf("sample = %+v", sample)
	}
}

func TestSampleProcessesUsesCacheWithinTTL(t *testing.T) {
	now := time.Unix(0, 0)
	calls := 0
	s := New(
		WithNowFunc(func() time.Time { return now }),
		WithProcessFactory(func(pid int32) (gopsutilProcess, error) {
			calls++
			return &fakeProcess{cpu: 5, memMB: 10, memPct: 1}, nil
		}),
	)

	s.SampleProcesses([]int{1})
	s.SampleProcesses([]int{1})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second call should hit cache)", calls)
	}
}

func TestSampleProcessesRequeriesAfterTTLExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	calls := 0
	s := New(
		WithNowFunc(func() time.Time { return now }),
		WithProcessFactory(func(pid int32) (gopsutilProcess, error) {
			calls++
			return &fakeProcess{cpu: 5, memMB: 10, memPct: 1}, nil
		}),
	)

	s.SampleProcesses([]int{1})
	now = now.Add(CacheTTL + time.Second)
	s.SampleProcesses([]int{1})
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (TTL expired)", calls)
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Unix(0, 0)
	s := New(
		WithNowFunc(func() time.Time { return now }),
		WithProcessFactory(func(pid int32) (gopsutilProcess, error) {
			return nil, errors.New("no such process")
		}),
	)

	for i := 0; i < breakerThreshold; i++ {
		now = now.Add(CacheTTL + time.Second)
		s.SampleProcesses([]int{42})
	}

	s.mu.Lock()
	open := now.Before(s.breakerOpenUntil)
	s.mu.Unlock()
	if !open {
		t.Error("expected circuit breaker to be open after consecutive failures")
	}
}

func TestClampNonNegative(t *testing.T) {
	if clampNonNegative(-5) != 0 {
		t.Error("expected negative value clamped to 0")
	}
	if clampNonNegative(3.2) != 3.2 {
		t.Error("expected positive value unchanged")
	}
}

func TestSampleProcessesCapsAtMaxProcesses(t *testing.T) {
	s := New(WithProcessFactory(func(pid int32) (gopsutilProcess, error) {
		return &fakeProcess{cpu: 1, memMB: 1, memPct: 1}, nil
	}))
	pids := make([]int, MaxProcesses+50)
	for i := range pids {
		pids[i] = i + 1
	}
	result := s.SampleProcesses(pids)
	if len(result) > MaxProcesses {
		t.Errorf("len(result) = %d, want <= %d", len(result), MaxProcesses)
	}
}

func TestUpdateResourcesIncrementsSampleCount(t *testing.T) {
	s := New()
	first := s.UpdateResources(7, shellmodel.ResourceSample{CPUPercent: 1})
	if first.Samples != 1 {
		t.Errorf("first Samples = %d, want 1", first.Samples)
	}
	second := s.UpdateResources(7, shellmodel.ResourceSample{CPUPercent: 2})
	if second.Samples != 2 {
		t.Errorf("second Samples = %d, want 2", second.Samples)
	}
}
