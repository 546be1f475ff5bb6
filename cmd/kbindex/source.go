package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSourceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "source <id>",
		Short: "Print the full text of a source",
		Long: `Print the full text of an indexed source. The id may carry its index
prefix, so identifiers can be copied straight from the index.

Examples:
  kbindex source notes/setup.md
  kbindex source file:notes/setup.md
  kbindex source url:https://example.com/docs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := a.indexer.LoadSourceText(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
}
