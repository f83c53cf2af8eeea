package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForCommand loads configuration for a command invocation, layering
// defaults, the global config, the local project config and flags.
func (l *Loader) LoadForCommand(cmd *cobra.Command, args []string) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig(args)
	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("cache_dir", "")
	viper.SetDefault("go_bin", DefaultGoBin)
	viper.SetDefault("build_timeout", DefaultBuildTimeout)
	viper.SetDefault("keep_work", DefaultKeepWork)
	viper.SetDefault("gen_suffix", DefaultGenSuffix)
	viper.SetDefault("verbose", DefaultVerbose)
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	base, err := os.UserConfigDir()
	if err != nil {
		return
	}

	globalDir := filepath.Join(base, "promex")

	for _, ext := range configExtensions {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig loads local configuration from the target directory
func (l *Loader) loadLocalConfig(args []string) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return // silently ignore, config.Load() will handle validation
	}

	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	localPath := FindLocalConfig(abs)
	if localPath != "" {
		viper.SetConfigFile(localPath)
		_ = viper.ReadInConfig()
	}
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("cache_dir", cmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("build_timeout", cmd.Flags().Lookup("build-timeout"))
	_ = viper.BindPFlag("keep_work", cmd.Flags().Lookup("keep-work"))
	_ = viper.BindPFlag("gen_suffix", cmd.Flags().Lookup("gen-suffix"))
	_ = viper.BindPFlag("no_cache", cmd.Flags().Lookup("no-cache"))
	_ = viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
}
