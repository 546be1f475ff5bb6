package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jankowtf/kbindex/internal/config"
	"github.com/jankowtf/kbindex/internal/logging"
)

// cli carries state shared by all subcommands.
type cli struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "kbindex",
		Short: "Keep a summarized index of local files and web pages",
		Long: `kbindex keeps a plain-text index of a knowledge base: one short,
model-written description per source file or linked web page.

Each pass discovers sources, re-checks the ones that may have changed,
summarizes new or changed content and writes the cache and index files.
Unchanged sources cost nothing, so passes can run as often as needed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipSetup(cmd) {
				return nil
			}
			return c.setup()
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to the config file (default $KBINDEX_CONFIG or the user config dir)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(c),
		newServeCmd(c),
		newMCPCmd(c),
		newStatusCmd(c),
		newIndexCmd(c),
		newSourceCmd(c),
		newConfigCmd(c),
		newVersionCmd(),
	)
	return root
}

// skipSetup reports whether cmd runs without a loaded configuration.
func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "completion", "version", "init":
		return true
	}
	return false
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Logs go to stderr so stdout stays clean for index text and MCP.
	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	slog.SetDefault(logger)

	c.cfg = cfg
	c.logger = logger
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kbindex %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
