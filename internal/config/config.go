// Package config loads the daemon's typed configuration: built-in
// defaults, overlaid by a YAML file, overlaid by environment variables
// (ApplyEnv); cmd/shelld applies CLI flags on top of the result. This
// extends the defaults-then-flags precedence of the teacher's
// collector.CollectConfig/cmd/melisai/main.go wiring, generalized to add
// a YAML layer in between via gopkg.in/yaml.v3 (already a teacher
// dependency).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/enhancer"
	"github.com/quanticsoul4772/macos-shell-sub000/internal/paths"
)

// Config is the daemon's runtime configuration.
type Config struct {
	DataDir        string        `yaml:"dataDir"`
	DisableCache   bool          `yaml:"disableCache"`
	MaxOutputLines int           `yaml:"maxOutputLines"`
	CommandTimeout time.Duration `yaml:"commandTimeout"`
	LogJSON        bool          `yaml:"logJSON"`
	LogLevel       string        `yaml:"logLevel"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	dataDir, err := paths.Root()
	if err != nil {
		dataDir = ""
	}
	return Config{
		DataDir:        dataDir,
		DisableCache:   false,
		MaxOutputLines: enhancer.DefaultMaxOutputLines,
		CommandTimeout: enhancer.DefaultTimeout,
		LogJSON:        false,
		LogLevel:       "info",
	}
}

// Load overlays a YAML config file (if present at path) onto the
// defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays the documented environment overrides:
// MACOS_SHELL_DATA_DIR and MCP_DISABLE_CACHE.
func (c Config) ApplyEnv() Config {
	if dir := os.Getenv(paths.DataDirEnv); dir != "" {
		c.DataDir = dir
	}
	if v := os.Getenv("MCP_DISABLE_CACHE"); v == "true" || v == "1" {
		c.DisableCache = true
	}
	return c
}
