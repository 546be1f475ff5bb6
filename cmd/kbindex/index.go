package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jankowtf/kbindex/internal/index"
	"github.com/jankowtf/kbindex/internal/report"
	"github.com/jankowtf/kbindex/internal/storage"
)

func newIndexCmd(c *cli) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Print the index",
		Long: `Print the index as last written. The text format is the index file
itself; json, csv and markdown list its entries.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := newCacheStore(c.cfg, c.logger)
			text, err := store.ReadIndex()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == report.FormatText {
				if text == "" {
					return nil
				}
				_, err := fmt.Fprintln(out, text)
				return err
			}
			return report.WriteEntries(out, parseEntries(text, renderOptions(c.cfg.Index)), format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", report.FormatText, "output format: text, json, csv, markdown")
	return cmd
}

// parseEntries splits index text without building providers.
func parseEntries(text string, opts index.RenderOptions) []index.Entry {
	types := []storage.SourceType{storage.SourceFile, storage.SourceURL}

	entries := index.ParseEntries(text)
	for i := range entries {
		if id, _, ok := opts.StripPrefix(entries[i].ID, types); ok {
			entries[i].SourceID = id
		}
	}
	return entries
}
