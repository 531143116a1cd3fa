package dupdetect

import (
	"testing"
	"time"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

func TestRecordEmitsOnThirdIdentical(t *testing.T) {
	d := New(5, 3, time.Minute)
	key := shellmodel.Key("k")
	result := shellmodel.ExecResult{Stdout: "2024-01-15T10:30:45 pid 1234", ExitCode: 0}

	if _, ok := d.Record(key, "custom-cmd", result); ok {
		t.Fatal("first observation should not emit")
	}
	if _, ok := d.Record(key, "custom-cmd", result); ok {
		t.Fatal("second observation should not emit")
	}
	ev, ok := d.Record(key, "custom-cmd", result)
	if !ok {
		t.Fatal("third identical observation should emit")
	}
	if ev.DuplicateCount != 3 {
		t.Errorf("DuplicateCount = %d, want 3", ev.DuplicateCount)
	}
	if ev.Command != "custom-cmd" {
		t.Errorf("Command = %q, want custom-cmd", ev.Command)
	}
}

func TestRecordNoEmitOnDifferentResults(t *testing.T) {
	d := New(5, 3, time.Minute)
	key := shellmodel.Key("k")

	for i := 0; i < 5; i++ {
		result := shellmodel.ExecResult{Stdout: randomish(i), ExitCode: 0}
		if _, ok := d.Record(key, "cmd", result); ok {
			t.Errorf("iteration %d: unexpected emit for distinct results", i)
		}
	}
}

func TestRecordRespectsSpan(t *testing.T) {
	base := time.Unix(0, 0)
	calls := 0
	d := New(5, 3, 10*time.Second)
	d.SetNowFunc(func() time.Time {
		t := base.Add(time.Duration(calls) * 20 * time.Second)
		calls++
		return t
	})

	key := shellmodel.Key("k")
	result := shellmodel.ExecResult{Stdout: "same", ExitCode: 0}
	for i := 0; i < 3; i++ {
		if _, ok := d.Record(key, "cmd", result); ok && i < 2 {
			t.Errorf("iteration %d: unexpected early emit", i)
		}
	}
	// Spaced 20s apart, span configured at 10s: neither the first three
	// identical results nor a fourth one trigger, since the observations
	// spread wider than the span.
	if _, ok := d.Record(key, "cmd", result); ok {
		t.Error("expected no emit: observations exceed configured span")
	}
}

func TestEvictClearsWindow(t *testing.T) {
	d := New(5, 3, time.Minute)
	key := shellmodel.Key("k")
	result := shellmodel.ExecResult{Stdout: "same", ExitCode: 0}
	d.Record(key, "cmd", result)
	d.Record(key, "cmd", result)
	d.Evict(key)
	if _, ok := d.Record(key, "cmd", result); ok {
		t.Error("expected no emit after evict reset the window")
	}
}

func randomish(i int) string {
	switch i % 3 {
	case 0:
		return "a"
	case 1:
		return "b"
	default:
		return "c"
	}
}
