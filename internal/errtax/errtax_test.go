package errtax

import "testing"

func TestCommandNotFoundProposesAlias(t *testing.T) {
	d := Handle(Failure{Command: "python script.py", Attempt: 1, ExitCode: 127})
	if d.Class != ClassCommandNotFound {
		t.Fatalf("Class = %v, want COMMAND_NOT_FOUND", d.Class)
	}
	if !d.ShouldRetry {
		t.Error("expected ShouldRetry true for first attempt with known alias")
	}
	if d.CorrectedCommand != "python3 script.py" {
		t.Errorf("CorrectedCommand = %q, want %q", d.CorrectedCommand, "python3 script.py")
	}
}

func TestCommandNotFoundNoAliasSecondAttempt(t *testing.T) {
	d := Handle(Failure{Command: "python script.py", Attempt: 2, ExitCode: 127})
	if d.ShouldRetry {
		t.Error("expected no further retry on second attempt")
	}
}

func TestCommandNotFoundUnknownBinary(t *testing.T) {
	d := Handle(Failure{Command: "frobnicate", Attempt: 1, ExitCode: 127})
	if d.ShouldRetry {
		t.Error("no known alias, should not retry")
	}
	if d.Recoverable {
		t.Error("COMMAND_NOT_FOUND should not be recoverable")
	}
}

func TestPermissionDenied(t *testing.T) {
	d := Handle(Failure{Command: "cat /etc/shadow", Attempt: 1, ExitCode: 126, Stderr: "Permission denied"})
	if d.Class != ClassPermissionDenied {
		t.Fatalf("Class = %v, want PERMISSION_DENIED", d.Class)
	}
	if d.ShouldRetry {
		t.Error("PERMISSION_DENIED should never retry")
	}
	if d.Stderr != "" {
		t.Errorf("Stderr = %q, want empty (sanitized)", d.Stderr)
	}
}

func TestTimeoutRetriesUpToTwoFurtherAttempts(t *testing.T) {
	d1 := Handle(Failure{Command: "sleep 100", Attempt: 1, TimedOut: true})
	if !d1.ShouldRetry || d1.DelayMS != 1000 {
		t.Errorf("attempt 1: %+v", d1)
	}
	d2 := Handle(Failure{Command: "sleep 100", Attempt: 2, TimedOut: true})
	if !d2.ShouldRetry {
		t.Errorf("attempt 2: %+v", d2)
	}
	d3 := Handle(Failure{Command: "sleep 100", Attempt: 3, TimedOut: true})
	if d3.ShouldRetry {
		t.Errorf("attempt 3 should hit the outer bound: %+v", d3)
	}
}

func TestNetworkErrorExponentialBackoff(t *testing.T) {
	d1 := Handle(Failure{Command: "curl x", Attempt: 1, Stderr: "Connection refused"})
	d2 := Handle(Failure{Command: "curl x", Attempt: 2, Stderr: "Connection refused"})
	if d1.DelayMS != 1000 {
		t.Errorf("attempt 1 DelayMS = %d, want 1000", d1.DelayMS)
	}
	if d2.DelayMS != 2000 {
		t.Errorf("attempt 2 DelayMS = %d, want 2000", d2.DelayMS)
	}
}

func TestResourceLimit(t *testing.T) {
	d := Handle(Failure{Command: "make -j64", Attempt: 1, Stderr: "Cannot allocate memory"})
	if d.Class != ClassResourceLimit {
		t.Fatalf("Class = %v, want RESOURCE_LIMIT", d.Class)
	}
	if d.DelayMS != 5000 {
		t.Errorf("DelayMS = %d, want 5000", d.DelayMS)
	}
}

func TestUnknownNeverRetries(t *testing.T) {
	d := Handle(Failure{Command: "mytool", Attempt: 1, ExitCode: 0})
	if d.Class != ClassUnknown {
		t.Fatalf("Class = %v, want UNKNOWN", d.Class)
	}
	if d.ShouldRetry {
		t.Error("UNKNOWN should never retry")
	}
}

func TestOuterBoundCapsAllClasses(t *testing.T) {
	d := Handle(Failure{Command: "curl x", Attempt: 3, Stderr: "Connection refused"})
	if d.ShouldRetry {
		t.Error("attempt 3 should never retry regardless of class")
	}
}

func TestStderrTruncated(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	d := Handle(Failure{Command: "mytool", Attempt: 1, ExitCode: 1, Stderr: string(long)})
	if len(d.Stderr) >= 1000 {
		t.Errorf("len(Stderr) = %d, want truncated", len(d.Stderr))
	}
}
