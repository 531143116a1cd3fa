package shellmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// Key is the stable digest of a normalized (command, cwd) pair used to
// index pending executions, the result cache, and duplicate-detector
// fingerprint windows.
type Key string

var combinedShortFlag = regexp.MustCompile(`^-[a-zA-Z]{2,}$`)
var gitLogOneline = regexp.MustCompile(`^(git\s+log\b.*--oneline.*?)\s+-\d+\s*$`)

// NormalizeCommand trims, collapses interior whitespace, and applies the
// small set of equivalence rewrites named by the spec: combined short
// option clusters are letter-sorted (so "ls -al" and "ls -la" normalize to
// the same string) and a trailing numeric bound on "git log --oneline -N"
// is dropped.
func NormalizeCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	for i, f := range fields {
		if combinedShortFlag.MatchString(f) {
			fields[i] = sortShortFlag(f)
		}
	}
	normalized := strings.Join(fields, " ")
	if m := gitLogOneline.FindStringSubmatch(normalized); m != nil {
		normalized = strings.TrimSpace(m[1])
	}
	return normalized
}

// sortShortFlag sorts the letters of a combined short-option cluster like
// "-al" into a canonical order ("-al"), so equivalent invocations collapse
// to one normalized form regardless of flag ordering.
func sortShortFlag(flag string) string {
	letters := []byte(flag[1:])
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	return "-" + string(letters)
}

// DeriveKey computes the stable digest of a normalized (command, cwd) pair.
func DeriveKey(command, cwd string) Key {
	h := sha256.New()
	h.Write([]byte(NormalizeCommand(command)))
	h.Write([]byte{0})
	h.Write([]byte(cwd))
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// fingerprint computes the digest the Duplicate Detector compares across
// repeated executions of the same command.
func fingerprint(stdout string, exitCode int) string {
	h := sha256.New()
	h.Write([]byte(stdout))
	h.Write([]byte{byte(exitCode)})
	return hex.EncodeToString(h.Sum(nil))
}
