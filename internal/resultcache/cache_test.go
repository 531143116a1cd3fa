package resultcache

import (
	"regexp"
	"testing"
	"time"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

type fakeClassifier struct {
	strategy shellmodel.CacheStrategy
}

func (f fakeClassifier) Classify(command string) shellmodel.Classification {
	ttl, _ := shellmodel.TTL(f.strategy)
	return shellmodel.Classification{Strategy: f.strategy, TTL: ttl, Reason: "test"}
}

func TestSetThenGetHit(t *testing.T) {
	c := New(fakeClassifier{strategy: shellmodel.StrategyMedium}, 10)
	c.Set("echo hi", "/x", shellmodel.ExecResult{Stdout: "hi", ExitCode: 0})

	got, ok := c.Get("echo hi", "/x")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Stdout != "hi" {
		t.Errorf("Stdout = %q, want hi", got.Stdout)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", got.AccessCount)
	}
}

func TestSetSkippedForNever(t *testing.T) {
	c := New(fakeClassifier{strategy: shellmodel.StrategyNever}, 10)
	c.Set("date", "/x", shellmodel.ExecResult{Stdout: "now", ExitCode: 0})

	if _, ok := c.Get("date", "/x"); ok {
		t.Error("NEVER-strategy command should not be cached")
	}
	if c.Stats().Skips != 1 {
		t.Errorf("Skips = %d, want 1", c.Stats().Skips)
	}
}

func TestGetExpired(t *testing.T) {
	now := time.Unix(0, 0)
	c := New(fakeClassifier{strategy: shellmodel.StrategyShort}, 10, WithNowFunc(func() time.Time { return now }))
	c.Set("ls", "/x", shellmodel.ExecResult{Stdout: "a", ExitCode: 0})

	now = now.Add(shellmodel.ShortTTL + time.Second)
	if _, ok := c.Get("ls", "/x"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestClearCommandIdempotent(t *testing.T) {
	c := New(fakeClassifier{strategy: shellmodel.StrategyMedium}, 10)
	c.Set("echo hi", "/x", shellmodel.ExecResult{Stdout: "hi", ExitCode: 0})

	first := c.ClearCommand("echo hi", "/x")
	if first != 1 {
		t.Errorf("first ClearCommand = %d, want 1", first)
	}
	second := c.ClearCommand("echo hi", "/x")
	if second != 0 {
		t.Errorf("second ClearCommand = %d, want 0", second)
	}
}

func TestClearPattern(t *testing.T) {
	c := New(fakeClassifier{strategy: shellmodel.StrategyMedium}, 10)
	c.Set("npm install foo", "/x", shellmodel.ExecResult{Stdout: "ok", ExitCode: 0})
	c.Set("npm install bar", "/x", shellmodel.ExecResult{Stdout: "ok", ExitCode: 0})
	c.Set("ls", "/x", shellmodel.ExecResult{Stdout: "ok", ExitCode: 0})

	removed := c.ClearPattern(regexp.MustCompile(`^npm install`))
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, ok := c.Get("ls", "/x"); !ok {
		t.Error("unrelated entry should survive pattern clear")
	}
}

func TestEventsEmitted(t *testing.T) {
	var events []Event
	c := New(fakeClassifier{strategy: shellmodel.StrategyMedium}, 10, WithEventSink(func(e Event) {
		events = append(events, e)
	}))

	c.Get("missing", "/x")
	c.Set("missing", "/x", shellmodel.ExecResult{Stdout: "v", ExitCode: 0})
	c.Get("missing", "/x")

	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].Kind != EventMiss || events[1].Kind != EventSet || events[2].Kind != EventHit {
		t.Errorf("events = %+v, want miss,set,hit", events)
	}
}

func TestStatsHitRate(t *testing.T) {
	c := New(fakeClassifier{strategy: shellmodel.StrategyMedium}, 10)
	c.Set("ls", "/x", shellmodel.ExecResult{Stdout: "a", ExitCode: 0})
	c.Get("ls", "/x")
	c.Get("missing", "/x")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit 1 miss", stats)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", stats.HitRate)
	}
}
