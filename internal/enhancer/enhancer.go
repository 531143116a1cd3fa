// Package enhancer implements the Command Enhancer (C12): the
// orchestration entry point a foreground command runs through. It
// consults the result cache, coalesces in-flight duplicates, retries
// failed attempts through the error taxonomy, learns NEVER rules from
// confirmed duplicate output and from output analysis, and truncates
// oversized output before handing a result back to a caller.
//
// Grounded on the teacher's internal/orchestrator.Orchestrator.Run: a
// composition root that sequences independently-built components behind
// one call, generalized here from "run N collectors in parallel" to "run
// one command through cache, dedup, retry, cache-populate, and learn".
package enhancer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/analyzer"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/dedup"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/dupdetect"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/errtax"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// DefaultMaxOutputLines bounds how many lines of output are returned to a
// caller before the line-budget truncation rule kicks in.
const DefaultMaxOutputLines = 2000

// DefaultTimeout bounds a single execution attempt when the caller does
// not specify one.
const DefaultTimeout = 30 * time.Second

// analysisConfidenceThreshold is the minimum analyzer confidence required
// to register an unconfirmed, unpersisted NEVER rule from output content.
const analysisConfidenceThreshold = 0.8

const binaryProbeSize = 1024
const maxLineLength = 10000

// Executor runs a single command attempt to completion.
type Executor interface {
	Run(ctx context.Context, command, cwd string, env map[string]string, timeout time.Duration) (shellmodel.ExecResult, error)
}

// Cache is the subset of resultcache.Cache the enhancer depends on.
type Cache interface {
	Get(command, cwd string) (shellmodel.CachedResult, bool)
	Set(command, cwd string, result shellmodel.ExecResult)
	EvictKey(key shellmodel.Key)
}

// Deduper is the subset of dedup.Deduplicator the enhancer depends on.
type Deduper interface {
	Execute(ctx context.Context, command, cwd string, run dedup.Runner) (shellmodel.ExecResult, error)
}

// RuleRegistrar is the subset of classifier.Classifier the enhancer uses
// to register newly learned rules.
type RuleRegistrar interface {
	AddRule(rule shellmodel.ClassificationRule, priority shellmodel.RulePriority)
}

// LearnPersister is the subset of learnstore.Store the enhancer uses to
// persist confirmed duplicate-output rules.
type LearnPersister interface {
	SaveRule(rule shellmodel.LearnedRule)
}

// Enhancer sequences a command through the cache, deduplicator, retry
// loop, and learning components.
type Enhancer struct {
	cache       Cache
	dedup       Deduper
	dupDetector DupDetector
	classifier  RuleRegistrar
	learnStore  LearnPersister
	executor    Executor

	maxOutputLines int
	timeout        time.Duration
	sleepFunc      func(time.Duration)
}

// DupDetector is the subset of dupdetect.Detector the enhancer depends on.
type DupDetector interface {
	Record(key shellmodel.Key, command string, result shellmodel.ExecResult) (*dupdetect.Event, bool)
}

// Option configures an Enhancer at construction time.
type Option func(*Enhancer)

// WithMaxOutputLines overrides DefaultMaxOutputLines.
func WithMaxOutputLines(n int) Option {
	return func(e *Enhancer) { e.maxOutputLines = n }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Enhancer) { e.timeout = d }
}

// WithSleepFunc overrides time.Sleep, for deterministic tests of the
// retry loop's delay handling.
func WithSleepFunc(f func(time.Duration)) Option {
	return func(e *Enhancer) { e.sleepFunc = f }
}

// New builds an Enhancer from its component dependencies.
func New(cache Cache, dd Deduper, dup DupDetector, classifier RuleRegistrar, learnStore LearnPersister, executor Executor, opts ...Option) *Enhancer {
	e := &Enhancer{
		cache:          cache,
		dedup:          dd,
		dupDetector:    dup,
		classifier:     classifier,
		learnStore:     learnStore,
		executor:       executor,
		maxOutputLines: DefaultMaxOutputLines,
		timeout:        DefaultTimeout,
		sleepFunc:      time.Sleep,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ErrorInfo is the taxonomy-derived explanation attached to a Result that
// ended in a non-zero exit code.
type ErrorInfo struct {
	Class       errtax.Class
	Recoverable bool
	Suggestion  string
}

// Truncation describes how a Result's output was shortened before being
// returned to the caller.
type Truncation struct {
	Marker        string
	OriginalLines int
	OriginalBytes int
}

// Result is what Run returns: the (possibly truncated) output of a
// command, whether it was served from cache, and any error taxonomy
// explanation if it failed.
type Result struct {
	Stdout           string
	Stderr           string
	ExitCode         int
	Duration         time.Duration
	Cached           bool
	CorrectedCommand string
	Truncation       *Truncation
	Error            *ErrorInfo
}

// Run executes command in cwd through the full enhancer pipeline: a
// cache hit returns immediately; a miss is coalesced through the
// deduplicator, retried per the error taxonomy, cache-populated and
// analyzed for learning on success, and truncated for display either
// way.
func (e *Enhancer) Run(ctx context.Context, command, cwd string, env map[string]string) (Result, error) {
	if cached, ok := e.cache.Get(command, cwd); ok {
		result := Result{
			Stdout:   cached.Stdout,
			Stderr:   cached.Stderr,
			ExitCode: cached.ExitCode,
			Cached:   true,
		}
		applyTruncation(&result, e.maxOutputLines)
		return result, nil
	}

	var finalCommand string
	execResult, err := e.dedup.Execute(ctx, command, cwd, func(innerCtx context.Context, cmd, innerCWD string) (shellmodel.ExecResult, error) {
		fc, res, rerr := e.runWithRetry(innerCtx, cmd, innerCWD, env)
		finalCommand = fc
		if rerr != nil {
			return res, rerr
		}
		e.onAttemptComplete(fc, innerCWD, res)
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Stdout:   execResult.Stdout,
		Stderr:   execResult.Stderr,
		ExitCode: execResult.ExitCode,
		Duration: execResult.Duration,
	}
	if finalCommand != "" && finalCommand != command {
		result.CorrectedCommand = finalCommand
	}
	if execResult.ExitCode != 0 || execResult.TimedOut {
		decision := errtax.Handle(errtax.Failure{
			Command:  command,
			CWD:      cwd,
			Attempt:  3,
			ExitCode: execResult.ExitCode,
			Stderr:   execResult.Stderr,
			TimedOut: execResult.TimedOut,
		})
		result.Error = &ErrorInfo{
			Class:       decision.Class,
			Recoverable: decision.Recoverable,
			Suggestion:  decision.Suggestion,
		}
		// Sanitized stderr, not the raw exec output: omitted entirely for
		// PERMISSION_DENIED, truncated otherwise.
		result.Stderr = decision.Stderr
	}
	applyTruncation(&result, e.maxOutputLines)
	return result, nil
}

// runWithRetry drives the error-taxonomy retry loop for a single
// underlying execution, up to the taxonomy's outer attempt bound. It
// returns the command string that actually produced the final result
// (which may differ from command if a COMMAND_NOT_FOUND correction was
// applied).
func (e *Enhancer) runWithRetry(ctx context.Context, command, cwd string, env map[string]string) (string, shellmodel.ExecResult, error) {
	cmd := command
	attempt := 1
	for {
		res, err := e.executor.Run(ctx, cmd, cwd, env, e.timeout)
		if err != nil {
			return cmd, shellmodel.ExecResult{}, err
		}
		if res.ExitCode == 0 && !res.TimedOut {
			return cmd, res, nil
		}

		decision := errtax.Handle(errtax.Failure{
			Command:  cmd,
			CWD:      cwd,
			Attempt:  attempt,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			TimedOut: res.TimedOut,
		})
		if !decision.ShouldRetry {
			return cmd, res, nil
		}
		if decision.CorrectedCommand != "" {
			cmd = decision.CorrectedCommand
		}
		if decision.DelayMS > 0 {
			e.sleepFunc(time.Duration(decision.DelayMS) * time.Millisecond)
		}
		attempt++
	}
}

// onAttemptComplete runs the post-success bookkeeping: cache population,
// duplicate-output learning, and output-analysis learning. It is called
// exactly once per underlying execution (never for a coalesced waiter),
// from inside the deduplicator's owner closure.
func (e *Enhancer) onAttemptComplete(command, cwd string, result shellmodel.ExecResult) {
	if result.ExitCode != 0 || result.TimedOut {
		return
	}

	e.cache.Set(command, cwd, result)
	key := shellmodel.DeriveKey(command, cwd)

	if event, duplicate := e.dupDetector.Record(key, command, result); duplicate {
		reason := fmt.Sprintf("duplicate output detected (%d times within %s)", event.DuplicateCount, event.TimeSpan)
		e.classifier.AddRule(shellmodel.ClassificationRule{
			Pattern:  command,
			IsRegex:  false,
			Strategy: shellmodel.StrategyNever,
			Reason:   reason,
		}, shellmodel.PriorityHigh)
		e.learnStore.SaveRule(shellmodel.LearnedRule{
			Pattern:  command,
			IsRegex:  false,
			Strategy: shellmodel.StrategyNever,
			Reason:   reason,
			Source:   shellmodel.SourceAutoDetect,
		})
		e.cache.EvictKey(key)
		return
	}

	analysis := analyzer.Analyze(result.Stdout)
	if analysis.Confidence >= analysisConfidenceThreshold && analysis.SuggestedStrategy == string(shellmodel.StrategyNever) {
		e.classifier.AddRule(shellmodel.ClassificationRule{
			Pattern:  command,
			IsRegex:  false,
			Strategy: shellmodel.StrategyNever,
			Reason:   "output analysis suggests volatile content",
		}, shellmodel.PriorityLow)
	}
}

// applyTruncation detects binary output, marks excessively long single
// lines, and enforces the line-count budget, recording what it did on
// result.Truncation.
func applyTruncation(result *Result, maxLines int) {
	if isBinary(result.Stdout) {
		result.Truncation = &Truncation{
			Marker:        "Binary output detected — content omitted",
			OriginalBytes: len(result.Stdout),
		}
		result.Stdout = ""
		return
	}

	lines := strings.Split(result.Stdout, "\n")
	originalLines := len(lines)
	originalBytes := len(result.Stdout)

	longLine := false
	for _, l := range lines {
		if len(l) > maxLineLength {
			longLine = true
			break
		}
	}

	if longLine {
		result.Truncation = &Truncation{
			Marker:        "extremely long lines detected",
			OriginalLines: originalLines,
			OriginalBytes: originalBytes,
		}
		return
	}

	if maxLines > 0 && originalLines > maxLines {
		head := (maxLines * 6) / 10
		tail := maxLines - head
		omitted := originalLines - head - tail
		kept := make([]string, 0, maxLines+1)
		kept = append(kept, lines[:head]...)
		kept = append(kept, fmt.Sprintf("[... %d lines omitted ...]", omitted))
		kept = append(kept, lines[len(lines)-tail:]...)
		result.Stdout = strings.Join(kept, "\n")
		result.Truncation = &Truncation{
			Marker:        fmt.Sprintf("[... %d lines omitted ...]", omitted),
			OriginalLines: originalLines,
			OriginalBytes: originalBytes,
		}
	}
}

// isBinary probes the first KiB of text for null bytes or a high
// proportion of non-printable runes.
func isBinary(text string) bool {
	probe := text
	if len(probe) > binaryProbeSize {
		probe = probe[:binaryProbeSize]
	}
	if len(probe) == 0 {
		return false
	}
	if bytes.IndexByte([]byte(probe), 0) >= 0 {
		return true
	}

	total := 0
	nonPrintable := 0
	for _, r := range probe {
		total++
		if r == utf8.RuneError {
			nonPrintable++
			continue
		}
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			nonPrintable++
		}
	}
	if total == 0 {
		return false
	}
	return float64(nonPrintable)/float64(total) > 0.30
}
