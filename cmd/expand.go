package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/macrokit/promex/internal/cache"
	"github.com/macrokit/promex/internal/config"
	"github.com/macrokit/promex/internal/expand"
	"github.com/macrokit/promex/internal/toolchain"
)

var expandCmd = &cobra.Command{
	Use:          "expand [packages]",
	Short:        "Expand macro invocations",
	Long:         `Build the inline macros of each package and splice their output into generated sibling files.`,
	RunE:         runExpand,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
}

func runExpand(cmd *cobra.Command, args []string) error {
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

	// An interrupt cancels the context and with it any in-flight external
	// build.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := toolchain.NewBuilder(cfg.GoBin, cfg.BuildTimeout, nil)
	pipeline := expand.New(cfg, c, builder, nil, logrus.StandardLogger())

	total := 0
	for _, dir := range dirs {
		n, err := pipeline.ExpandDir(ctx, dir)
		if err != nil {
			return err
		}
		total += n
	}

	fmt.Printf("expanded %d macro invocation(s)\n", total)

	return nil
}

func setupLogging(cfg *config.Config) {
	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// targetDirs resolves package arguments to unique directories; file
// arguments mean their containing directory, no arguments mean the current
// one.
func targetDirs(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{"."}
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", arg, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			abs = filepath.Dir(abs)
		}

		if !seen[abs] {
			seen[abs] = true
			dirs = append(dirs, abs)
		}
	}

	return dirs, nil
}
