package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultGoBin        = "go"
	DefaultBuildTimeout = 5 * time.Minute
	DefaultGenSuffix    = "_macrogen"
	DefaultKeepWork     = false
	DefaultVerbose      = false
)

// Holds the configuration options for promex
type Config struct {
	// Root directory of the artifact cache; empty means the per-user default
	CacheDir string

	// Go command used to build macro plugins
	GoBin string

	// Timeout for one external build
	BuildTimeout time.Duration

	// Keep ephemeral project directories after a successful build
	KeepWork bool

	// Suffix of generated sibling files (widgets.go -> widgets_macrogen.go)
	GenSuffix string

	// Bypass the artifact cache
	NoCache bool

	// Enable verbose output
	Verbose bool
}

func Load() (*Config, error) {
	cfg := &Config{
		CacheDir:     viper.GetString("cache_dir"),
		GoBin:        viper.GetString("go_bin"),
		BuildTimeout: viper.GetDuration("build_timeout"),
		KeepWork:     viper.GetBool("keep_work"),
		GenSuffix:    viper.GetString("gen_suffix"),
		NoCache:      viper.GetBool("no_cache"),
		Verbose:      viper.GetBool("verbose"),
	}

	if cfg.GoBin == "" {
		cfg.GoBin = DefaultGoBin
	}

	if cfg.GenSuffix == "" {
		cfg.GenSuffix = DefaultGenSuffix
	}

	if cfg.BuildTimeout == 0 {
		cfg.BuildTimeout = DefaultBuildTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.CacheDir != "" {
		abs, err := filepath.Abs(c.CacheDir)
		if err != nil {
			return fmt.Errorf("invalid cache directory: %v", err)
		}

		c.CacheDir = abs
	}

	if c.BuildTimeout < 0 {
		return fmt.Errorf("build timeout must be positive, got %s", c.BuildTimeout)
	}

	// An empty suffix would make every .go file look generated and the
	// scanner would skip the whole package.
	if c.GenSuffix == "" {
		return fmt.Errorf("generated file suffix must not be empty")
	}

	if strings.ContainsAny(c.GenSuffix, `/\`) {
		return fmt.Errorf("invalid generated file suffix: %s", c.GenSuffix)
	}

	return nil
}
