// Command indexctl is a small operational CLI over the index core: open
// a database (creating and migrating its schema as needed), inspect
// aggregate counters, and walk the resource hierarchy. It exists to
// exercise the core end to end, the way a real deployment's admin
// tooling would.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/orthancore/indexcore/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "indexctl",
		Short: "Operate on an index-core database",
	}

	root.AddCommand(newStatusCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newListCommand())
	root.AddCommand(newDeleteCommand())

	return root
}

func loadConfigAndLogger() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Logger{}, fmt.Errorf("indexctl: loading config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}

	return cfg, log, nil
}
