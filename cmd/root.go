package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/macrokit/promex/internal/codes"
	"github.com/macrokit/promex/internal/config"
	"github.com/macrokit/promex/internal/version"
)

var rootCmd = &cobra.Command{
	Use:          "promex",
	Short:        "Inline Go macro expander",
	Long:         `Write compile-time code generators next to the code that uses them, without a separate generator module`,
	RunE:         runExpand,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(codes.ExitCode(err))
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)
	rootCmd.PersistentFlags().String("cache-dir", "", "Artifact cache directory (default: per-user cache)")
	rootCmd.PersistentFlags().Duration("build-timeout", config.DefaultBuildTimeout, "Timeout for one external macro build")
	rootCmd.PersistentFlags().Bool("keep-work", false, "Keep ephemeral project directories after successful builds")
	rootCmd.PersistentFlags().String("gen-suffix", config.DefaultGenSuffix, "Suffix of generated sibling files")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Rebuild macro artifacts even when cached")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cacheCmd)

	viper.SetDefault("go_bin", config.DefaultGoBin)
	viper.SetDefault("build_timeout", config.DefaultBuildTimeout)
	viper.SetDefault("gen_suffix", config.DefaultGenSuffix)
	viper.SetDefault("verbose", false)
}
