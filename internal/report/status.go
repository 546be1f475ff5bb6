package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jankowtf/kbindex/internal/index"
	"github.com/jankowtf/kbindex/internal/storage"
)

// Record states shown in the STATE column.
const (
	stateOK      = "ok"
	statePending = "pending"
	stateStale   = "stale"
)

// WriteStatus prints a status panel followed by a table of sources.
func WriteStatus(w io.Writer, st index.Status, rows []index.SourceInfo) error {
	var b strings.Builder

	b.WriteString(titleStyle.Render("kbindex status"))
	b.WriteString("\n\n")
	b.WriteString(panelStyle.Render(summaryLines(st)))
	b.WriteString("\n")

	if len(rows) == 0 {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("No sources indexed yet."))
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
		b.WriteString(sourceTable(rows))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func summaryLines(st index.Status) string {
	types := make([]string, 0, len(st.ByType))
	for t := range st.ByType {
		types = append(types, string(t))
	}
	sort.Strings(types)

	var parts []string
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s %d", t, st.ByType[storage.SourceType(t)]))
	}
	byType := strings.Join(parts, ", ")
	if byType == "" {
		byType = "none"
	}

	lines := []string{
		kv("Sources", fmt.Sprintf("%d (%s)", st.Total, byType)),
		kv("Summarized", fmt.Sprintf("%d", st.Summarized)),
		keyStyle.Render("Pending: ") + countStyle(st.Pending, ColorWarn).Render(fmt.Sprintf("%d", st.Pending)),
	}
	if st.FetchIssues > 0 {
		lines = append(lines, keyStyle.Render("Fetch issues: ")+countStyle(st.FetchIssues, ColorWarn).Render(fmt.Sprintf("%d", st.FetchIssues)))
	}
	if !st.GeneratedAt.IsZero() {
		lines = append(lines, kv("Written", st.GeneratedAt.Format(time.RFC3339)))
	}
	if st.LastPass != nil {
		lines = append(lines, kv("Last pass", fmt.Sprintf("%s (%d commits, %s)",
			st.LastPass.PassID, st.LastPass.Commits, st.LastPass.Duration.Round(time.Millisecond))))
	}
	if st.LastError != "" {
		lines = append(lines, keyStyle.Render("Last error: ")+lipgloss.NewStyle().Foreground(ColorError).Render(st.LastError))
	}
	return strings.Join(lines, "\n")
}

func kv(key, value string) string {
	return keyStyle.Render(key+": ") + mutedStyle.Render(value)
}

func sourceTable(rows []index.SourceInfo) string {
	header := []string{"TYPE", "ID", "STATE", "FETCH", "INDEXED"}
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		state := stateOK
		switch {
		case r.Pending && r.HasSummary:
			state = stateStale
		case r.Pending:
			state = statePending
		}
		fetch := "-"
		if r.FetchStatus != "" {
			fetch = string(r.FetchStatus)
		}
		indexed := "-"
		if !r.LastIndexedAt.IsZero() {
			indexed = r.LastIndexedAt.Format("2006-01-02 15:04")
		}
		cells = append(cells, []string{string(r.Type), r.ID, state, fetch, indexed})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range cells {
		for i, c := range row {
			if n := lipgloss.Width(c); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var b strings.Builder
	for i, h := range header {
		b.WriteString(headerStyle.Render(pad(h, widths[i])))
	}
	b.WriteString("\n")
	for _, row := range cells {
		for i, c := range row {
			style := cellStyle
			switch i {
			case 0:
				style = SourceBadge(c).PaddingRight(2)
			case 2:
				style = stateStyle(c)
			case 3:
				style = fetchStyle(c)
			}
			b.WriteString(style.Render(pad(c, widths[i])))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
