// Package runtime is the single composition root: it wires the
// classifier, result cache, deduplicator, duplicate detector, learning
// store, resource sampler, background process manager, session manager,
// and command enhancer into one object, and owns the lifecycle of their
// background goroutines (dedup sweeper, resource-sampling tick,
// learn-store debounce/watch): Start runs them under one cancellable
// context, and Stop cancels it and stops each component in turn.
//
// Grounded on the teacher's internal/orchestrator.Orchestrator: a
// composition root built from independently-constructed components,
// started and stopped together via signal.Notify + context.WithCancel.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/bgprocess"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/classifier"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/config"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/dedup"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/dupdetect"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/enhancer"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/executorimpl"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/learnstore"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/paths"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/resourcesampler"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/resultcache"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/session"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// disabledCache satisfies enhancer.Cache while storing nothing, for
// MCP_DISABLE_CACHE=true: C5 is skipped but C6/C7 stay active since they
// do not depend on it.
type disabledCache struct{}

func (disabledCache) Get(command, cwd string) (shellmodel.CachedResult, bool) {
	return shellmodel.CachedResult{}, false
}
func (disabledCache) Set(command, cwd string, result shellmodel.ExecResult) {}
func (disabledCache) EvictKey(key shellmodel.Key)                          {}

// resourceSampleInterval is how often running background processes have
// their CPU/memory resampled.
const resourceSampleInterval = 5 * time.Second

// Runtime owns every core component and their background goroutines.
type Runtime struct {
	Classifier  *classifier.Classifier
	Cache       *resultcache.Cache
	Dedup       *dedup.Deduplicator
	DupDetector *dupdetect.Detector
	LearnStore  *learnstore.Store
	Sampler     *resourcesampler.Sampler
	BgProcess   *bgprocess.Manager
	Sessions    *session.Manager
	Enhancer    *enhancer.Enhancer

	cfg    config.Config
	logger *slog.Logger
	cancel context.CancelFunc
}

// New builds every component from cfg but does not start any background
// goroutines yet; call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := paths.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	cl := classifier.New()

	cache := resultcache.New(cl, resultcache.DefaultMaxEntries)
	var enhancerCache enhancer.Cache = cache
	if cfg.DisableCache {
		enhancerCache = disabledCache{}
	}

	dd := dedup.New()

	detector := dupdetect.New(dupdetect.DefaultWindow, dupdetect.DefaultThreshold, dupdetect.DefaultSpan)

	rulesPath, err := paths.RulesFile()
	if err != nil {
		return nil, err
	}
	rulesBackupPath, err := paths.RulesBackupFile()
	if err != nil {
		return nil, err
	}
	learnStore := learnstore.New(rulesPath, rulesBackupPath, cl, learnstore.WithLogger(logger))

	sampler := resourcesampler.New()

	bgDir, err := paths.Background()
	if err != nil {
		return nil, err
	}
	bg := bgprocess.New(bgDir, bgprocess.WithSampler(sampler), bgprocess.WithLogger(logger))

	sessionDir, err := paths.Sessions()
	if err != nil {
		return nil, err
	}
	sessions := session.New(sessionDir, bg, session.WithLogger(logger))

	exec := executorimpl.New()
	enh := enhancer.New(enhancerCache, dd, detector, cl, learnStore, exec,
		enhancer.WithMaxOutputLines(cfg.MaxOutputLines),
		enhancer.WithTimeout(cfg.CommandTimeout),
	)

	return &Runtime{
		Classifier:  cl,
		Cache:       cache,
		Dedup:       dd,
		DupDetector: detector,
		LearnStore:  learnStore,
		Sampler:     sampler,
		BgProcess:   bg,
		Sessions:    sessions,
		Enhancer:    enh,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Start loads persisted state and launches the background goroutines:
// the deduplicator's stale-entry sweeper, the background-process
// resource-sampling tick, and the learn-store's debounced-write/fsnotify
// watch. It returns once loading completes; goroutines keep running
// until Stop is called.
func (r *Runtime) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if err := r.LearnStore.Initialize(); err != nil {
		cancel()
		return fmt.Errorf("initialize learn store: %w", err)
	}
	if err := r.Sessions.Initialize(); err != nil {
		cancel()
		return fmt.Errorf("initialize sessions: %w", err)
	}
	if err := r.BgProcess.Load(); err != nil {
		cancel()
		return fmt.Errorf("load background processes: %w", err)
	}

	r.Dedup.StartSweeper()
	r.BgProcess.StartSamplingLoop(runCtx, resourceSampleInterval)

	return nil
}

// CacheEnabled reports whether the result cache is active, for
// cache_stats's cacheEnabled flag.
func (r *Runtime) CacheEnabled() bool {
	return !r.cfg.DisableCache
}

// Stop ends every background goroutine and flushes pending writes.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.Dedup.Stop()
	r.BgProcess.Stop()
	if err := r.Sessions.FlushPendingSaves(); err != nil {
		r.logger.Warn("runtime: failed to flush sessions on shutdown", "error", err)
	}
	if err := r.LearnStore.Close(); err != nil {
		r.logger.Warn("runtime: failed to close learn store", "error", err)
	}
}
