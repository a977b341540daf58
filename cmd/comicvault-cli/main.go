// Command comicvault-cli runs seeding and maintenance tasks against the
// configured database without starting the web server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vrsandeep/comicvault/internal/config"
	"github.com/vrsandeep/comicvault/internal/logger"
)

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		code := 1
		if ee, ok := err.(*exitError); ok {
			code = ee.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code)
	}
}

type globalFlags struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "comicvault-cli",
		Short:         "Seed and maintain a comicvault database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(newSeedCmd(g), newStatusCmd(), newMigrateCmd(g))
	return cmd
}

func loadConfig(g *globalFlags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	level := cfg.Log.Level
	if g.verbose {
		level = "debug"
	}
	log, err := logger.New(level, cfg.Log.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, log, nil
}
