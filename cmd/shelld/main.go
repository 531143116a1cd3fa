// shelld — persistent shell-execution service with an AI optimization
// core: a result cache, in-flight deduplicator, duplicate-output
// detector, and error-driven retry engine sitting in front of ordinary
// shell command execution, plus session and background-process
// management, exposed over the Model Context Protocol.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/config"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/paths"
)

var version = "0.1.0"

var (
	cfgFile  string
	logJSON  bool
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "shelld",
		Short:   "Persistent shell-execution service with an AI optimization core",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file (default ~/.macos-shell/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit structured JSON logs instead of text")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, sessionCmd, cacheCmd, bgCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig applies the defaults -> YAML -> env -> flags precedence and
// returns the resolved config alongside a logger built from it.
func loadConfig() (config.Config, *slog.Logger, error) {
	path := cfgFile
	if path == "" {
		if p, err := paths.ConfigFile(); err == nil {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	cfg = cfg.ApplyEnv()
	if logJSON {
		cfg.LogJSON = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
