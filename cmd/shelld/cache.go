package main

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show result cache, dedup, and learning-store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"cache":        rt.Cache.Stats(),
			"dedup":        rt.Dedup.Stats(),
			"learning":     rt.LearnStore.Stats(),
			"cacheEnabled": rt.CacheEnabled(),
		})
	},
}

var cacheExplainCmd = &cobra.Command{
	Use:   "explain <command>",
	Short: "Explain how a command classifies and whether it is cached",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		cwd, _ := cmd.Flags().GetString("cwd")
		classification, cached := rt.Cache.Explain(args[0], cwd)
		return printJSON(map[string]interface{}{
			"command":         args[0],
			"explanation":     rt.Classifier.Explain(args[0]),
			"classification":  classification,
			"willBeCached":    classification.ShouldCache(),
			"currentlyCached": cached,
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <command>",
	Short: "Evict every cached result for a command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		cwd, _ := cmd.Flags().GetString("cwd")
		cleared := rt.Cache.ClearCommand(args[0], cwd)
		fmt.Printf("cleared %d entries\n", cleared)
		return nil
	},
}

var cacheClearPatternCmd = &cobra.Command{
	Use:   "clear-pattern <regex>",
	Short: "Evict every cached result whose command matches a regular expression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		re, err := regexp.Compile(args[0])
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		cleared := rt.Cache.ClearPattern(re)
		fmt.Printf("cleared %d entries\n", cleared)
		return nil
	},
}

func init() {
	cacheExplainCmd.Flags().String("cwd", "", "Working directory")
	cacheClearCmd.Flags().String("cwd", "", "Working directory; empty clears every cwd for this command")
	cacheCmd.AddCommand(cacheStatsCmd, cacheExplainCmd, cacheClearCmd, cacheClearPatternCmd)
}
