package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jankowtf/kbindex/internal/index"
)

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one index pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.indexer.RunOnce(cmd.Context())
			if stats != nil {
				printStats(cmd.OutOrStdout(), stats)
			}
			if err != nil {
				return fmt.Errorf("index pass: %w", err)
			}
			return nil
		},
	}
}

func printStats(w io.Writer, stats *index.PassStats) {
	fmt.Fprintf(w, "Index pass %s:\n", stats.PassID)
	fmt.Fprintf(w, "  Sources:      %d\n", stats.Discovered)
	fmt.Fprintf(w, "  Added:        %d\n", stats.Added)
	fmt.Fprintf(w, "  Removed:      %d\n", stats.Removed)
	if stats.Retyped > 0 {
		fmt.Fprintf(w, "  Retyped:      %d\n", stats.Retyped)
	}
	fmt.Fprintf(w, "  Summarized:   %d\n", stats.Summarized)
	fmt.Fprintf(w, "  Failed:       %d\n", stats.SummaryFailed+stats.InitFailed)
	fmt.Fprintf(w, "  Pending:      %d\n", stats.Pending)
	fmt.Fprintf(w, "  Writes:       %d\n", stats.Commits)
}
