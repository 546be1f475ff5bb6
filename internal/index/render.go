package index

import (
	"sort"
	"strings"

	"github.com/jankowtf/kbindex/internal/storage"
)

// RenderOptions controls the layout of the index artifact.
type RenderOptions struct {
	// Order lists source types in output order. Types not listed follow in
	// lexical order.
	Order []storage.SourceType

	// Prefixes maps a source type to the text written before each id.
	// Types without an entry use "<type>:".
	Prefixes map[storage.SourceType]string
}

// Prefix returns the identifier prefix for a source type.
func (o RenderOptions) Prefix(t storage.SourceType) string {
	if p, ok := o.Prefixes[t]; ok {
		return p
	}
	return string(t) + ":"
}

// Entry is one block of the index artifact.
type Entry struct {
	// ID is the identifier line as written, including its prefix.
	ID string `json:"id"`

	// SourceID is ID without its type prefix, when the prefix is known.
	SourceID string `json:"source_id,omitempty"`

	Description string `json:"description"`
}

// Render builds the index text from state. Records with an empty summary
// are left out. The output is a pure function of the records and opts.
func Render(state *storage.CacheState, opts RenderOptions) string {
	groups := make(map[storage.SourceType][]string)
	for id, rec := range state.Sources {
		if strings.TrimSpace(rec.SummaryText) == "" {
			continue
		}
		groups[rec.SourceType] = append(groups[rec.SourceType], id)
	}

	var blocks []string
	for _, t := range typeOrder(groups, opts.Order) {
		ids := groups[t]
		sort.Strings(ids)
		prefix := opts.Prefix(t)
		for _, id := range ids {
			identifier := strings.TrimSpace(prefix + id)
			blocks = append(blocks, identifier+"\n"+compactSummary(state.Sources[id].SummaryText))
		}
	}

	return strings.Join(blocks, "\n\n")
}

// compactSummary drops blank lines so a multi-paragraph summary stays a
// single block.
func compactSummary(summary string) string {
	lines := strings.Split(strings.TrimSpace(summary), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func typeOrder(groups map[storage.SourceType][]string, order []storage.SourceType) []storage.SourceType {
	seen := make(map[storage.SourceType]bool, len(order))
	out := make([]storage.SourceType, 0, len(groups))
	for _, t := range order {
		if seen[t] {
			continue
		}
		seen[t] = true
		if _, ok := groups[t]; ok {
			out = append(out, t)
		}
	}

	var rest []storage.SourceType
	for t := range groups {
		if !seen[t] {
			rest = append(rest, t)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })

	return append(out, rest...)
}

// ParseEntries splits an index artifact back into entries. The first line of
// each block is the identifier; the remaining lines are the description.
func ParseEntries(text string) []Entry {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}

	var entries []Entry
	for _, chunk := range strings.Split(text, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		id, desc, _ := strings.Cut(chunk, "\n")
		entries = append(entries, Entry{
			ID:          strings.TrimSpace(id),
			Description: strings.TrimSpace(desc),
		})
	}
	return entries
}

// StripPrefix resolves an identifier to a source id and type using the
// configured prefixes. It reports false when no prefix matches.
func (o RenderOptions) StripPrefix(identifier string, types []storage.SourceType) (string, storage.SourceType, bool) {
	// Longest prefix first so "url:" never shadows a longer custom prefix.
	sorted := append([]storage.SourceType(nil), types...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(o.Prefix(sorted[i])) > len(o.Prefix(sorted[j]))
	})
	for _, t := range sorted {
		p := o.Prefix(t)
		if p != "" && strings.HasPrefix(identifier, p) {
			return strings.TrimPrefix(identifier, p), t, true
		}
	}
	return "", "", false
}
