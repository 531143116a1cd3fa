package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var bgCmd = &cobra.Command{
	Use:   "bg",
	Short: "Inspect and manage background processes",
}

var bgListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked background processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		if err := rt.BgProcess.Load(); err != nil {
			return fmt.Errorf("load background processes: %w", err)
		}
		sessionID, _ := cmd.Flags().GetString("session")
		return printJSON(rt.BgProcess.List(sessionID))
	},
}

var bgKillCmd = &cobra.Command{
	Use:   "kill <id>",
	Short: "Signal a background process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		if err := rt.BgProcess.Load(); err != nil {
			return fmt.Errorf("load background processes: %w", err)
		}
		sigName, _ := cmd.Flags().GetString("signal")
		var sig syscall.Signal
		switch strings.ToUpper(sigName) {
		case "KILL":
			sig = syscall.SIGKILL
		case "INT":
			sig = syscall.SIGINT
		default:
			sig = syscall.SIGTERM
		}
		return rt.BgProcess.Kill(args[0], sig)
	},
}

func init() {
	bgListCmd.Flags().String("session", "", "Filter to one session")
	bgKillCmd.Flags().String("signal", "TERM", "Signal name: TERM, KILL, INT")
	bgCmd.AddCommand(bgListCmd, bgKillCmd)
}
