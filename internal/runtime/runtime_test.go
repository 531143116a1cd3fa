package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/config"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(rt.Stop)
	return rt
}

func TestNewWiresEveryComponent(t *testing.T) {
	rt := newTestRuntime(t)
	if rt.Classifier == nil || rt.Cache == nil || rt.Dedup == nil || rt.DupDetector == nil ||
		rt.LearnStore == nil || rt.Sampler == nil || rt.BgProcess == nil || rt.Sessions == nil || rt.Enhancer == nil {
		t.Fatal("expected every component to be non-nil after New")
	}
}

func TestRunThroughEnhancerPopulatesCache(t *testing.T) {
	rt := newTestRuntime(t)

	result, err := rt.Enhancer.Run(context.Background(), "echo wired", "/tmp", nil)
	if err != nil {
		t.Fatalf("Enhancer.Run: %v", err)
	}
	if result.Stdout != "wired\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "wired\n")
	}

	second, err := rt.Enhancer.Run(context.Background(), "echo wired", "/tmp", nil)
	if err != nil {
		t.Fatalf("Enhancer.Run (second): %v", err)
	}
	if !second.Cached {
		t.Error("expected the second identical run to be served from cache")
	}
}

func TestDisabledCacheNeverServesAHit(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.DisableCache = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rt, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(rt.Stop)

	if rt.CacheEnabled() {
		t.Error("expected CacheEnabled() = false")
	}

	if _, err := rt.Enhancer.Run(context.Background(), "echo nocache", "/tmp", nil); err != nil {
		t.Fatalf("Enhancer.Run: %v", err)
	}
	second, err := rt.Enhancer.Run(context.Background(), "echo nocache", "/tmp", nil)
	if err != nil {
		t.Fatalf("Enhancer.Run (second): %v", err)
	}
	if second.Cached {
		t.Error("expected no cache hit with DisableCache = true")
	}
}
