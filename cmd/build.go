package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/macrokit/promex/internal/cache"
	"github.com/macrokit/promex/internal/config"
	"github.com/macrokit/promex/internal/expand"
	"github.com/macrokit/promex/internal/toolchain"
)

var buildCmd = &cobra.Command{
	Use:          "build [packages]",
	Short:        "Build macro artifacts without expanding",
	Long:         `Compile the inline macros of each package into cached plugin artifacts, warming the cache for later expansion.`,
	RunE:         runWarm,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
}

func runWarm(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForCommand(cmd, args)
	if err != nil {
		return err
	}

	setupLogging(cfg)

	dirs, err := targetDirs(args)
	if err != nil {
		return err
	}

	c, err := cache.New(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := toolchain.NewBuilder(cfg.GoBin, cfg.BuildTimeout, nil)
	pipeline := expand.New(cfg, c, builder, nil, logrus.StandardLogger())

	built := 0
	for _, dir := range dirs {
		artifact, err := pipeline.Warm(ctx, dir)
		if err != nil {
			return err
		}
		if artifact != "" {
			built++
		}
	}

	fmt.Printf("built %d macro artifact(s)\n", built)

	return nil
}
