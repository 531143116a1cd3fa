package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/mcpserver"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/runtime"
)

// serveCmd starts the MCP stdio server. It is the long-running daemon
// command: every other shelld subcommand operates on persisted state
// directly instead of talking to a running instance.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP).
This allows AI agents to run shell commands through the optimization
core (result cache, deduplication, error-driven retry) and manage
sessions and background processes.

Communication happens over standard input/output (stdio).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		rt, err := runtime.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("build runtime: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := rt.Start(ctx); err != nil {
			return fmt.Errorf("start runtime: %w", err)
		}
		defer rt.Stop()

		srv := mcpserver.NewServer(version, rt)
		return srv.Start(ctx)
	},
}
