package main

import (
	"github.com/spf13/cobra"

	"github.com/jankowtf/kbindex/internal/index"
	"github.com/jankowtf/kbindex/internal/report"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached state of every source",
		RunE: func(cmd *cobra.Command, args []string) error {
			state := newCacheStore(c.cfg, c.logger).Load()
			return report.WriteStatus(cmd.OutOrStdout(), index.Describe(state), index.ListSources(state))
		},
	}
}
