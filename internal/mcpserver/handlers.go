package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/runtime"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/session"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// defaultBgOutputWait bounds how long bg_output blocks waiting for new
// lines when timeout_ms is not supplied.
const defaultBgOutputWait = 0

// handlers adapts mcp.CallToolRequest arguments to runtime.Runtime calls.
type handlers struct {
	rt *runtime.Runtime
}

func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func boolArg(args map[string]interface{}, key string, defaultVal bool) bool {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return defaultVal
	}
}

func intArg(args map[string]interface{}, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	f, ok := val.(float64)
	if !ok {
		return defaultVal
	}
	return int(f)
}

func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
	}
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(data)), nil
}

func (h *handlers) resolveSession(args map[string]interface{}) (shellmodel.Session, error) {
	id := stringArg(args, "session", shellmodel.DefaultSessionID)
	sess, ok := h.rt.Sessions.Get(id)
	if !ok {
		return shellmodel.Session{}, fmt.Errorf("session %q not found", id)
	}
	return sess, nil
}

func (h *handlers) runCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	command := stringArg(args, "command", "")
	if command == "" {
		return errResult("command is required"), nil
	}

	sess, err := h.resolveSession(args)
	if err != nil {
		return errResult(err.Error()), nil
	}
	cwd := stringArg(args, "cwd", sess.CWD)

	runCtx := ctx
	if ms := intArg(args, "timeout_ms", 0); ms > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	result, err := h.rt.Enhancer.Run(runCtx, command, cwd, sess.Env)
	if err != nil {
		return errResult(fmt.Sprintf("run failed: %v", err)), nil
	}

	entry := shellmodel.HistoryEntry{
		Command:   command,
		ExitCode:  result.ExitCode,
		Stdout:    result.Stdout,
		Stderr:    result.Stderr,
		StartTime: start,
		Duration:  result.Duration,
	}
	if err := h.rt.Sessions.AddToHistory(sess.ID, entry); err != nil {
		return errResult(fmt.Sprintf("record history failed: %v", err)), nil
	}

	return jsonResult(result)
}

func (h *handlers) runBackground(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	command := stringArg(args, "command", "")
	if command == "" {
		return errResult("command is required"), nil
	}

	sess, err := h.resolveSession(args)
	if err != nil {
		return errResult(err.Error()), nil
	}
	cwd := stringArg(args, "cwd", sess.CWD)

	var tags []string
	if raw := stringArg(args, "tags", ""); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	rec, err := h.rt.BgProcess.Start(sess.ID, command, cwd, sess.Env, tags)
	if err != nil {
		return errResult(fmt.Sprintf("start failed: %v", err)), nil
	}
	return jsonResult(rec)
}

func (h *handlers) bgStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	id := stringArg(args, "id", "")
	rec, ok := h.rt.BgProcess.Get(id)
	if !ok {
		return errResult(fmt.Sprintf("process %q not found", id)), nil
	}
	return jsonResult(rec)
}

func (h *handlers) bgOutput(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	id := stringArg(args, "id", "")
	after := int64(intArg(args, "after_line", 0))
	timeout := time.Duration(intArg(args, "timeout_ms", defaultBgOutputWait)) * time.Millisecond

	lines, total, ok := h.rt.BgProcess.Output(id, after, timeout)
	if !ok {
		return errResult(fmt.Sprintf("process %q not found", id)), nil
	}
	return jsonResult(map[string]interface{}{
		"lines":      lines,
		"totalLines": total,
	})
}

func (h *handlers) bgKill(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	id := stringArg(args, "id", "")
	sigName := stringArg(args, "signal", "TERM")

	var sig syscall.Signal
	switch strings.ToUpper(sigName) {
	case "KILL":
		sig = syscall.SIGKILL
	case "INT":
		sig = syscall.SIGINT
	default:
		sig = syscall.SIGTERM
	}

	if err := h.rt.BgProcess.Kill(id, sig); err != nil {
		return errResult(fmt.Sprintf("kill failed: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"success": true})
}

func (h *handlers) bgList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	sessionID := stringArg(args, "session", "")
	recs := h.rt.BgProcess.List(sessionID)
	return jsonResult(recs)
}

func (h *handlers) sessionCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	name := stringArg(args, "name", "")
	cwd := stringArg(args, "cwd", "")

	var env map[string]string
	if raw := stringArg(args, "env", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return errResult(fmt.Sprintf("invalid env JSON: %v", err)), nil
		}
	}

	sess := h.rt.Sessions.Create(name, cwd, env)
	return jsonResult(sess)
}

func (h *handlers) sessionList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.rt.Sessions.List())
}

func (h *handlers) sessionDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	id := stringArg(args, "id", "")
	if err := h.rt.Sessions.Delete(id); err != nil {
		if _, ok := err.(*session.ErrNotFound); ok {
			return errResult(err.Error()), nil
		}
		return errResult(fmt.Sprintf("delete failed: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"success": true})
}

func (h *handlers) sessionHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	id := stringArg(args, "id", "")
	limit := intArg(args, "limit", 0)
	hist, err := h.rt.Sessions.History(id, limit)
	if err != nil {
		return errResult(err.Error()), nil
	}
	return jsonResult(hist)
}

func (h *handlers) cacheClearCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	command := stringArg(args, "command", "")
	cwd := stringArg(args, "cwd", "")
	cleared := h.rt.Cache.ClearCommand(command, cwd)
	return jsonResult(map[string]interface{}{
		"success":      true,
		"clearedCount": cleared,
		"command":      command,
		"cwd":          cwd,
	})
}

func (h *handlers) cacheClearPattern(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	pattern := stringArg(args, "pattern", "")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return errResult(fmt.Sprintf("invalid pattern: %v", err)), nil
	}
	cleared := h.rt.Cache.ClearPattern(re)
	return jsonResult(map[string]interface{}{
		"success":      true,
		"clearedCount": cleared,
		"pattern":      pattern,
	})
}

func (h *handlers) cacheMarkNever(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	command := stringArg(args, "command", "")
	if command == "" {
		return errResult("command is required"), nil
	}
	isPattern := boolArg(args, "isPattern", false)
	reason := stringArg(args, "reason", "")

	rule := shellmodel.ClassificationRule{
		Pattern:  command,
		IsRegex:  isPattern,
		Strategy: shellmodel.StrategyNever,
		Reason:   reason,
		Priority: shellmodel.PriorityHigh,
	}
	h.rt.Classifier.AddRule(rule, shellmodel.PriorityHigh)
	h.rt.LearnStore.SaveRule(shellmodel.LearnedRule{
		Pattern:   command,
		IsRegex:   isPattern,
		Strategy:  shellmodel.StrategyNever,
		Reason:    reason,
		CreatedAt: time.Now(),
		Source:    shellmodel.SourceUser,
	})

	if isPattern {
		if re, err := regexp.Compile(command); err == nil {
			h.rt.Cache.ClearPattern(re)
		}
	} else {
		h.rt.Cache.ClearCommand(command, "")
	}

	return jsonResult(map[string]interface{}{
		"success":   true,
		"command":   command,
		"isPattern": isPattern,
		"reason":    reason,
	})
}

func (h *handlers) cacheStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]interface{}{
		"cache":        h.rt.Cache.Stats(),
		"dedup":        h.rt.Dedup.Stats(),
		"learning":     h.rt.LearnStore.Stats(),
		"cacheEnabled": h.rt.CacheEnabled(),
		"ttls": map[string]string{
			string(shellmodel.StrategyShort):     shellmodel.ShortTTL.String(),
			string(shellmodel.StrategyMedium):    shellmodel.MediumTTL.String(),
			string(shellmodel.StrategyLong):      shellmodel.LongTTL.String(),
			string(shellmodel.StrategyPermanent): "no expiry",
		},
	})
}

func (h *handlers) cacheExplain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	command := stringArg(args, "command", "")
	cwd := stringArg(args, "cwd", "")
	if command == "" {
		return errResult("command is required"), nil
	}

	classification, cached := h.rt.Cache.Explain(command, cwd)
	return jsonResult(map[string]interface{}{
		"command":         command,
		"explanation":     h.rt.Classifier.Explain(command),
		"classification":  classification,
		"willBeCached":    classification.ShouldCache(),
		"currentlyCached": cached,
	})
}
