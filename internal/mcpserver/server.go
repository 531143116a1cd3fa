// Package mcpserver exposes the shell-execution core over the Model
// Context Protocol: one tool per enhancer/session/background-process
// operation, each a thin adapter from mcp.CallToolRequest arguments to a
// runtime.Runtime method call, marshaled back to JSON.
//
// Grounded on the teacher's internal/mcp (NewServer/registerTools,
// handler functions returning *mcp.CallToolResult via json.MarshalIndent
// + newTextResult), generalized from melisai's four observability tools
// to the full run/background/session/cache tool surface.
package mcpserver

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/runtime"
)

// Server wraps the MCP server instance bound to one Runtime.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server with every tool registered against rt.
func NewServer(version string, rt *runtime.Runtime) *Server {
	s := server.NewMCPServer("shelld", version, server.WithLogging())
	h := &handlers{rt: rt}
	registerTools(s, h)
	return &Server{mcpServer: s}
}

// Start runs the server in stdio mode (blocking) until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func registerTools(s *server.MCPServer, h *handlers) {
	s.AddTool(mcp.NewTool("run_command",
		mcp.WithDescription("Run a shell command through the optimization core: result cache, in-flight deduplication, and error-driven retry. Returns the (possibly truncated) output."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to run")),
		mcp.WithString("cwd", mcp.Description("Working directory; defaults to the session's cwd")),
		mcp.WithString("session", mcp.Description("Session ID; defaults to the default session"), mcp.DefaultString("default")),
		mcp.WithNumber("timeout_ms", mcp.Description("Deadline in milliseconds for the whole call, across every retry attempt")),
		mcp.WithNumber("max_output_lines", mcp.Description("Not applied: output is truncated at the server's configured line budget (maxOutputLines), whatever this value is")),
	), h.runCommand)

	s.AddTool(mcp.NewTool("run_background",
		mcp.WithDescription("Start a long-lived shell command tracked under a session; returns immediately with its id."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to run")),
		mcp.WithString("cwd", mcp.Description("Working directory; defaults to the session's cwd")),
		mcp.WithString("session", mcp.Description("Session ID; defaults to the default session"), mcp.DefaultString("default")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
	), h.runBackground)

	s.AddTool(mcp.NewTool("bg_status",
		mcp.WithDescription("Get a background process's current record (no live output)."),
		mcp.WithString("id", mcp.Required()),
	), h.bgStatus)

	s.AddTool(mcp.NewTool("bg_output",
		mcp.WithDescription("Read captured output lines from a background process, optionally blocking for new lines."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithNumber("after_line", mcp.Description("Only return lines after this line number")),
		mcp.WithNumber("timeout_ms", mcp.Description("Block up to this long waiting for new lines")),
	), h.bgOutput)

	s.AddTool(mcp.NewTool("bg_kill",
		mcp.WithDescription("Signal a background process."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithString("signal", mcp.Description("Signal name: TERM, KILL, INT"), mcp.DefaultString("TERM")),
	), h.bgKill)

	s.AddTool(mcp.NewTool("bg_list",
		mcp.WithDescription("List tracked background processes, optionally filtered to one session."),
		mcp.WithString("session", mcp.Description("Session ID filter")),
	), h.bgList)

	s.AddTool(mcp.NewTool("session_create",
		mcp.WithDescription("Create a named shell session with its own working directory and environment."),
		mcp.WithString("name", mcp.Description("Session name")),
		mcp.WithString("cwd", mcp.Description("Initial working directory")),
		mcp.WithString("env", mcp.Description("Environment overrides as a JSON object string, e.g. {\"FOO\":\"bar\"}")),
	), h.sessionCreate)

	s.AddTool(mcp.NewTool("session_list",
		mcp.WithDescription("List every tracked session."),
	), h.sessionList)

	s.AddTool(mcp.NewTool("session_delete",
		mcp.WithDescription("Delete a session and kill its background processes. The default session cannot be deleted."),
		mcp.WithString("id", mcp.Required()),
	), h.sessionDelete)

	s.AddTool(mcp.NewTool("session_history",
		mcp.WithDescription("Read a session's command history."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Most recent N entries; 0 for all")),
	), h.sessionHistory)

	s.AddTool(mcp.NewTool("cache_clear_command",
		mcp.WithDescription("Evict every cached result for one (command, cwd) pair."),
		mcp.WithString("command", mcp.Required()),
		mcp.WithString("cwd", mcp.Description("Working directory; empty clears every cwd for this command")),
	), h.cacheClearCommand)

	s.AddTool(mcp.NewTool("cache_clear_pattern",
		mcp.WithDescription("Evict every cached result whose command matches a regular expression."),
		mcp.WithString("pattern", mcp.Required()),
	), h.cacheClearPattern)

	s.AddTool(mcp.NewTool("cache_mark_never",
		mcp.WithDescription("Register a user rule marking a command (or pattern) as never cacheable, persisted to the learning store."),
		mcp.WithString("command", mcp.Required()),
		mcp.WithBoolean("isPattern", mcp.Description("Treat command as a regular expression")),
		mcp.WithString("reason", mcp.Required()),
	), h.cacheMarkNever)

	s.AddTool(mcp.NewTool("cache_stats",
		mcp.WithDescription("Result cache, dedup, and learning-store statistics, plus whether the cache is enabled."),
	), h.cacheStats)

	s.AddTool(mcp.NewTool("cache_explain",
		mcp.WithDescription("Explain how a command classifies and whether it is currently cached."),
		mcp.WithString("command", mcp.Required()),
		mcp.WithString("cwd", mcp.Description("Working directory")),
	), h.cacheExplain)
}
