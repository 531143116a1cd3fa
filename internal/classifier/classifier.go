// Package classifier implements the Cache Classifier (C2): it maps a
// command's text to a {strategy, ttl, reason} classification, evaluating
// high-priority rules, then built-in rules, then low-priority rules, first
// match wins. It is the single place strategy decisions are made; the
// Result Cache, the enhancer, and the cache_explain tool all go through it.
//
// Grounded on the teacher's internal/executor/registry.go Registry map:
// here a three-tier ordered rule list takes the place of the flat tool
// registry, since classification needs priority and fallback instead of a
// single keyed lookup.
package classifier

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// compiledRule is a ClassificationRule with its regex pre-compiled (once,
// at registration time) if it is a regex rule.
type compiledRule struct {
	shellmodel.ClassificationRule
	re *regexp.Regexp
}

func compile(r shellmodel.ClassificationRule) compiledRule {
	cr := compiledRule{ClassificationRule: r}
	if r.IsRegex {
		cr.re = regexp.MustCompile(r.Pattern)
	}
	return cr
}

// match reports whether the rule applies to the normalized command text.
// Literal rules match either the whole command or its leading token
// (so a bare pattern like "date" matches "date" and "date +%s" alike;
// a multi-word pattern like "git status" matches only that exact phrase
// or as a prefix before further arguments).
func (r compiledRule) match(normalized string) bool {
	if r.IsRegex {
		return r.re.MatchString(normalized)
	}
	if normalized == r.Pattern {
		return true
	}
	return strings.HasPrefix(normalized, r.Pattern+" ")
}

// Classifier evaluates classification rules against normalized command
// text. Zero value is not usable; use New.
type Classifier struct {
	mu      sync.RWMutex
	high    []compiledRule
	builtin []compiledRule
	low     []compiledRule
}

// New creates a Classifier seeded with the built-in rules.
func New() *Classifier {
	c := &Classifier{}
	for _, r := range builtinRules {
		c.builtin = append(c.builtin, compile(r))
	}
	return c
}

// AddRule registers a user or learned rule at the given priority. Rules of
// the same priority are evaluated in insertion order (first inserted wins
// ties), per the spec's tie-break rule.
func (c *Classifier) AddRule(rule shellmodel.ClassificationRule, priority shellmodel.RulePriority) {
	rule.Priority = priority
	cr := compile(rule)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch priority {
	case shellmodel.PriorityHigh:
		c.high = append(c.high, cr)
	default:
		c.low = append(c.low, cr)
	}
}

// RemoveRule removes the first high- or low-priority rule matching pattern
// exactly (pattern text + IsRegex), reporting whether one was removed.
// Built-in rules cannot be removed.
func (c *Classifier) RemoveRule(pattern string, isRegex bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok, rest := removeFirst(c.high, pattern, isRegex); ok {
		c.high = rest
		return true
	}
	if ok, rest := removeFirst(c.low, pattern, isRegex); ok {
		c.low = rest
		return true
	}
	return false
}

func removeFirst(rules []compiledRule, pattern string, isRegex bool) (bool, []compiledRule) {
	for i, r := range rules {
		if r.Pattern == pattern && r.IsRegex == isRegex {
			out := make([]compiledRule, 0, len(rules)-1)
			out = append(out, rules[:i]...)
			out = append(out, rules[i+1:]...)
			return true, out
		}
	}
	return false, rules
}

// defaultClassification is the fallback when no rule matches.
var defaultClassification = shellmodel.Classification{
	Strategy: shellmodel.StrategyMedium,
	Reason:   "no rule matched; default strategy",
}

// Classify returns the classification for a command: the first match among
// high-priority rules, then built-in rules, then low-priority rules, or
// the default MEDIUM fallback.
func (c *Classifier) Classify(command string) shellmodel.Classification {
	normalized := shellmodel.NormalizeCommand(command)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, tier := range [][]compiledRule{c.high, c.builtin, c.low} {
		for _, r := range tier {
			if r.match(normalized) {
				return classificationFor(r.ClassificationRule)
			}
		}
	}
	return defaultClassification
}

func classificationFor(r shellmodel.ClassificationRule) shellmodel.Classification {
	ttl, _ := shellmodel.TTL(r.Strategy)
	return shellmodel.Classification{Strategy: r.Strategy, TTL: ttl, Reason: r.Reason}
}

// ShouldCache is shorthand for Classify(command).Strategy != NEVER.
func (c *Classifier) ShouldCache(command string) bool {
	return c.Classify(command).ShouldCache()
}

// Explain returns a human-readable description of how command classifies.
func (c *Classifier) Explain(command string) string {
	cl := c.Classify(command)
	if cl.TTL > 0 {
		return fmt.Sprintf("%s (ttl=%s): %s", cl.Strategy, cl.TTL, cl.Reason)
	}
	return fmt.Sprintf("%s: %s", cl.Strategy, cl.Reason)
}

// builtinRules encode the defaults from spec.md §4.2: status/time/PID-like
// commands are never cached; trivial directory listings get a short TTL;
// file reads and help text get a long TTL; version identifiers are cached
// permanently. Order matters within this tier: more specific patterns are
// listed before looser ones since the first match wins.
var builtinRules = []shellmodel.ClassificationRule{
	{Pattern: `^(date|ps|top|who|uptime|w|free|vmstat|iostat|netstat|ss)(\s.*)?$`, IsRegex: true,
		Strategy: shellmodel.StrategyNever, Reason: "status/time/PID command, output changes every invocation"},
	{Pattern: `^git status$`, IsRegex: true,
		Strategy: shellmodel.StrategyNever, Reason: "interactive git status reflects live working-tree state"},
	{Pattern: `--version\b`, IsRegex: true,
		Strategy: shellmodel.StrategyPermanent, Reason: "version identifier, stable for the lifetime of the binary"},
	{Pattern: `^\S+\s+-[vV]$`, IsRegex: true,
		Strategy: shellmodel.StrategyPermanent, Reason: "version identifier, stable for the lifetime of the binary"},
	{Pattern: `^(cat|head|tail|less|more|man)\s+\S+`, IsRegex: true,
		Strategy: shellmodel.StrategyLong, Reason: "file read, contents rarely change within a session"},
	{Pattern: `--help\b`, IsRegex: true,
		Strategy: shellmodel.StrategyLong, Reason: "help text is static"},
	{Pattern: `^pwd$`, IsRegex: true,
		Strategy: shellmodel.StrategyShort, Reason: "trivial, cheap to recompute but stable for a short window"},
	{Pattern: `^ls(\s+-[a-zA-Z]+)?(\s+\S+)?$`, IsRegex: true,
		Strategy: shellmodel.StrategyShort, Reason: "directory listing, may change as files are added/removed"},
}
