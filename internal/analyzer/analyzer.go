// Package analyzer implements the Output Analyzer (C3): it scans command
// stdout for signals that the output is dynamic (timestamps, PIDs,
// counters, addresses, high-change keywords) and suggests a cache
// strategy with a confidence score, and it compares two outputs for
// similarity so the Duplicate Detector can decide whether repeated runs
// are "the same" result.
//
// Grounded on the teacher's internal/model analyzers (DetectAnomalies,
// ComputeUSEMetrics): small pure functions over typed structs that derive
// a score from independently-detected signals.
package analyzer

import (
	"fmt"
	"regexp"
	"strings"
)

// Indicator is one detected dynamic-content signal.
type Indicator struct {
	Kind       string
	Match      string
	TimeOrPID  bool // counts toward the "timestamp or pid" strategy rules
}

// Analysis is the result of analyzing a block of output.
type Analysis struct {
	Indicators        []Indicator
	SuggestedStrategy string
	Confidence        float64
}

type family struct {
	kind      string
	re        *regexp.Regexp
	timeOrPID bool
}

var families = []family{
	{"timestamp_iso", regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`), true},
	{"timestamp_unix", regexp.MustCompile(`\b\d{10}(\.\d+)?\b`), true},
	{"timestamp_relative", regexp.MustCompile(`(?i)\b\d+\s*(seconds?|minutes?|hours?|days?)\s+ago\b`), true},
	{"pid_labeled", regexp.MustCompile(`(?i)\bPID:?\s*\d+\b`), true},
	{"pid_bracketed", regexp.MustCompile(`\[\d{2,7}\]`), true},
	{"pid_psstyle", regexp.MustCompile(`(?m)^\s*\d{2,7}\s+\S`), true},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), false},
	{"ipv6", regexp.MustCompile(`\b[0-9a-fA-F]{1,4}(:[0-9a-fA-F]{1,4}){5,7}\b`), false},
	{"port", regexp.MustCompile(`(?i)\bport\s*:?\s*\d{2,5}\b`), false},
	{"filesize", regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s?(b|kb|mb|gb|tb|kib|mib|gib)\b`), false},
	{"counter", regexp.MustCompile(`(?i)\b\d+\s*(bytes|packets|items)\b|\b\d+/\d+\b`), false},
}

var keywordRe = regexp.MustCompile(`(?i)\b(real-time|realtime|live|currently|updating|running)\b`)

// Analyze scans text for dynamic-content indicators and derives a
// suggested cache strategy and confidence per spec.md §4.3.
func Analyze(text string) Analysis {
	var indicators []Indicator
	seenKind := map[string]bool{}

	if keywordRe.MatchString(text) {
		return Analysis{
			Indicators:        []Indicator{{Kind: "keyword", Match: keywordRe.FindString(text)}},
			SuggestedStrategy: "NEVER",
			Confidence:        1.0,
		}
	}

	for _, f := range families {
		if m := f.re.FindString(text); m != "" {
			if !seenKind[f.kind] {
				indicators = append(indicators, Indicator{Kind: f.kind, Match: m, TimeOrPID: f.timeOrPID})
				seenKind[f.kind] = true
			}
		}
	}

	strategy, confidence := deriveStrategy(indicators)
	return Analysis{Indicators: indicators, SuggestedStrategy: strategy, Confidence: confidence}
}

func deriveStrategy(indicators []Indicator) (string, float64) {
	if len(indicators) == 0 {
		return "LONG", 0.8
	}

	timeOrPIDCount := 0
	for _, ind := range indicators {
		if ind.TimeOrPID {
			timeOrPIDCount++
		}
	}

	if len(indicators) >= 2 && timeOrPIDCount >= 1 {
		return "NEVER", 0.95
	}
	if timeOrPIDCount == 1 && len(indicators) == 1 {
		return "NEVER", 0.9
	}
	if len(indicators) == 1 {
		return "SHORT", 0.7
	}
	// Multiple indicators, none timestamp/PID: treat as the SHORT case per
	// the single strongest signal rather than escalate without a
	// timestamp/PID basis.
	return "SHORT", 0.7
}

// Comparison is the result of comparing two output blocks.
type Comparison struct {
	IsDifferent bool
	Differences []string
	Similarity  float64
}

// Compare reports how similar two output blocks are, by matching lines at
// the same position. Identical empty inputs compare as fully similar.
func Compare(a, b string) Comparison {
	linesA := splitLines(a)
	linesB := splitLines(b)

	if len(linesA) == 0 && len(linesB) == 0 {
		return Comparison{Similarity: 1.0}
	}

	maxLen := len(linesA)
	if len(linesB) > maxLen {
		maxLen = len(linesB)
	}

	matching := 0
	var differences []string
	for i := 0; i < maxLen; i++ {
		var la, lb string
		if i < len(linesA) {
			la = linesA[i]
		}
		if i < len(linesB) {
			lb = linesB[i]
		}
		if la == lb {
			matching++
		} else {
			differences = append(differences, lineDiff(i, la, lb))
		}
	}

	similarity := float64(matching) / float64(maxLen)
	return Comparison{
		IsDifferent: similarity < 0.95,
		Differences: differences,
		Similarity:  similarity,
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func lineDiff(i int, a, b string) string {
	return fmt.Sprintf("line %d: %s != %s", i+1, a, b)
}
