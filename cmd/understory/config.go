package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// configName is the optional per-workspace configuration file.
const configName = ".understory.toml"

const defaultKeep = 5

// Config mirrors .understory.toml. Every field is optional; explicit flags
// always win over configured values.
type Config struct {
	DB         string   `toml:"db"`
	Format     string   `toml:"format"`
	Workers    int      `toml:"workers"`
	Keep       int      `toml:"keep"`
	DebounceMs int      `toml:"debounce_ms"`
	Excludes   []string `toml:"excludes"`
}

// loadConfig reads the workspace config. A missing file yields the zero
// Config, never an error.
func loadConfig(root string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(filepath.Join(root, configName))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", configName, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", configName, err)
	}
	return cfg, nil
}

// applyConfig fills flag values the user did not set explicitly from the
// workspace config, then re-validates the output format.
func applyConfig(cmd *cobra.Command, cfg Config) error {
	if cfg.Format != "" && !cmd.Flags().Changed("format") {
		flagFormat = cfg.Format
	}
	if cfg.DB != "" && !cmd.Flags().Changed("db") {
		flagDB = cfg.DB
	}
	if cfg.Keep > 0 && cmd.Flags().Lookup("keep") != nil && !cmd.Flags().Changed("keep") {
		flagKeep = cfg.Keep
	}
	if cfg.DebounceMs > 0 && cmd.Flags().Lookup("debounce") != nil && !cmd.Flags().Changed("debounce") {
		flagDebounce = time.Duration(cfg.DebounceMs) * time.Millisecond
	}
	return validateFormat(flagFormat)
}
