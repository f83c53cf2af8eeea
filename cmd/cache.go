package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/macrokit/promex/internal/cache"
	"github.com/macrokit/promex/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:          "cache",
	Short:        "Manage the artifact cache",
	SilenceUsage: true,
}

var cacheStatsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show cache statistics",
	RunE:         runCacheStats,
	SilenceUsage: true,
}

var cacheClearCmd = &cobra.Command{
	Use:          "clear",
	Short:        "Remove all cached artifacts",
	RunE:         runCacheClear,
	SilenceUsage: true,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openCache(cmd *cobra.Command, args []string) (*cache.Cache, error) {
	cfg, err := config.NewLoader().LoadForCommand(cmd, args)
	if err != nil {
		return nil, err
	}

	setupLogging(cfg)

	return cache.New(cfg.CacheDir)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd, args)
	if err != nil {
		return err
	}
	defer c.Close()

	count, size, err := c.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Cache: %s\nEntries: %d\nArtifact size: %.1f KiB\n",
		c.Root(), count, float64(size)/1024)

	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd, args)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Clear(); err != nil {
		return err
	}

	fmt.Println("Cache cleared")

	return nil
}
