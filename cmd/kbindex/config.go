package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jankowtf/kbindex/internal/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(newConfigInitCmd(c))
	return cmd
}

func newConfigInitCmd(c *cli) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath(c.configPath)
			if err != nil {
				return err
			}

			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s (use --force to overwrite)\n", path)
				return nil
			}

			if err := config.Default().Save(path); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created config at %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Edit sources.files.dir and sources.urls.links_file to point at your knowledge base.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func resolveConfigPath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if env := os.Getenv(config.EnvConfigPath); env != "" {
		return env, nil
	}
	return config.ConfigPath()
}
