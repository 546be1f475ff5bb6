package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jankowtf/kbindex/internal/index"
)

// Formats accepted by WriteEntries.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
)

// WriteEntries writes index entries in the given format. The text format is
// the index artifact itself and is handled by the caller.
func WriteEntries(w io.Writer, entries []index.Entry, format string) error {
	switch format {
	case FormatJSON:
		return exportJSON(w, entries)
	case FormatCSV:
		return exportCSV(w, entries)
	case FormatMarkdown:
		return exportMarkdown(w, entries)
	default:
		return fmt.Errorf("unsupported format %q: use text, json, csv, or markdown", format)
	}
}

func exportJSON(w io.Writer, entries []index.Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if entries == nil {
		entries = []index.Entry{}
	}
	return enc.Encode(entries)
}

func exportCSV(w io.Writer, entries []index.Entry) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "source_id", "description"})
	for _, e := range entries {
		cw.Write([]string{e.ID, e.SourceID, e.Description})
	}
	cw.Flush()
	return cw.Error()
}

func exportMarkdown(w io.Writer, entries []index.Entry) error {
	for i, e := range entries {
		if _, err := fmt.Fprintf(w, "## %d. %s\n\n%s\n\n", i+1, e.ID, e.Description); err != nil {
			return err
		}
	}
	return nil
}
