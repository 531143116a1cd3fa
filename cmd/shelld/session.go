package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/runtime"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every tracked session",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		return printJSON(rt.Sessions.List())
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		sess, ok := rt.Sessions.Get(args[0])
		if !ok {
			return fmt.Errorf("session %q not found", args[0])
		}
		return printJSON(sess)
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a session and kill its background processes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		if err := rt.BgProcess.Load(); err != nil {
			return fmt.Errorf("load background processes: %w", err)
		}
		return rt.Sessions.Delete(args[0])
	},
}

func init() {
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionRmCmd)
}

// loadRuntime builds a Runtime and loads persisted state without calling
// Start, so the dedup sweeper and resource-sampling loop never run;
// LearnStore.Initialize still starts its rule-file watch. Used by
// one-shot CLI commands that read or mutate on-disk state directly.
func loadRuntime() (*runtime.Runtime, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt, err := runtime.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build runtime: %w", err)
	}
	if err := rt.LearnStore.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize learn store: %w", err)
	}
	if err := rt.Sessions.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize sessions: %w", err)
	}
	return rt, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
