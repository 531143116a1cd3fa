package bgprocess

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

func waitForStatus(t *testing.T, m *Manager, id string, want shellmodel.ProcessStatus, timeout time.Duration) shellmodel.ProcessRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, ok := m.Get(id)
		if ok && rec.Status == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("process %q did not reach status %s within %s", id, want, timeout)
	return shellmodel.ProcessRecord{}
}

func TestStartCapturesOutputAndStops(t *testing.T) {
	m := New("")
	rec, err := m.Start("s1", "echo hello world", "/tmp", nil, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Status != shellmodel.StatusRunning && rec.Status != shellmodel.StatusStarting {
		t.Errorf("initial status = %v", rec.Status)
	}

	final := waitForStatus(t, m, rec.ID, shellmodel.StatusStopped, 2*time.Second)
	if final.ExitCode == nil || *final.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", final.ExitCode)
	}

	lines, total, ok := m.Output(rec.ID, 0, 0)
	if !ok {
		t.Fatal("expected Output to find process")
	}
	if total < 1 {
		t.Errorf("total = %d, want >= 1", total)
	}
	found := false
	for _, l := range lines {
		if l.Content == "hello world" {
			found = true
		}
	}
	if !found {
		t.Errorf("lines = %+v, want to contain %q", lines, "hello world")
	}
}

func TestStartNonZeroExitIsFailed(t *testing.T) {
	m := New("")
	rec, err := m.Start("s1", "exit 3", "/tmp", nil, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitForStatus(t, m, rec.ID, shellmodel.StatusFailed, 2*time.Second)
	if final.ExitCode == nil || *final.ExitCode != 3 {
		t.Errorf("ExitCode = %v, want 3", final.ExitCode)
	}
}

func TestKillMarksKilledAndEventuallyRemoves(t *testing.T) {
	m := New("")
	rec, err := m.Start("s1", "sleep 30", "/tmp", nil, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := m.Kill(rec.ID, syscall.SIGTERM); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	waitForStatus(t, m, rec.ID, shellmodel.StatusKilled, 2*time.Second)
}

func TestSessionLimitExceeded(t *testing.T) {
	m := New("")
	var lastErr error
	for i := 0; i < MaxPerSession+1; i++ {
		_, err := m.Start("limited-session", "true", "/tmp", nil, nil)
		if err != nil {
			lastErr = err
			break
		}
	}
	if lastErr == nil {
		t.Fatal("expected session limit to be exceeded")
	}
	if _, ok := lastErr.(*ErrLimitExceeded); !ok {
		t.Errorf("err = %v, want *ErrLimitExceeded", lastErr)
	}
}

func TestLoadMarksLiveOrphanedAndDeadFailed(t *testing.T) {
	dir := t.TempDir()

	aliveRec := shellmodel.ProcessRecord{
		ID:        "alive",
		SessionID: "s1",
		Command:   "sleep 100",
		PID:       os.Getpid(), // our own test process: guaranteed alive
		Status:    shellmodel.StatusRunning,
		StartTime: time.Now(),
	}
	deadRec := shellmodel.ProcessRecord{
		ID:        "dead",
		SessionID: "s1",
		Command:   "sleep 100",
		PID:       1 << 30, // exceedingly unlikely to be a live PID
		Status:    shellmodel.StatusRunning,
		StartTime: time.Now(),
	}
	for _, rec := range []shellmodel.ProcessRecord{aliveRec, deadRec} {
		data, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, rec.ID+".json"), data, 0o600); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	m := New(dir)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	alive, ok := m.Get("alive")
	if !ok || alive.Status != shellmodel.StatusOrphaned {
		t.Errorf("alive.Status = %v, ok=%v, want ORPHANED", alive.Status, ok)
	}
	dead, ok := m.Get("dead")
	if !ok || dead.Status != shellmodel.StatusFailed {
		t.Errorf("dead.Status = %v, ok=%v, want FAILED", dead.Status, ok)
	}
}
