// Package report renders index status and entries for the terminal and for
// export.
package report

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jankowtf/kbindex/internal/storage"
)

// Palette.
var (
	ColorAccent = lipgloss.Color("#7C3AED")
	ColorOK     = lipgloss.Color("#10B981")
	ColorMuted  = lipgloss.Color("#6B7280")
	ColorError  = lipgloss.Color("#EF4444")
	ColorWarn   = lipgloss.Color("#F59E0B")
	ColorBorder = lipgloss.Color("#374151")
)

var typeColors = map[string]lipgloss.Color{
	string(storage.SourceFile): lipgloss.Color("#3B82F6"),
	string(storage.SourceURL):  ColorOK,
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	keyStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	headerStyle = keyStyle.PaddingRight(2)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
)

// SourceBadge returns the style for a source type column.
func SourceBadge(sourceType string) lipgloss.Style {
	color, ok := typeColors[sourceType]
	if !ok {
		color = ColorMuted
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).PaddingRight(1)
}

// stateStyle colors the record state column: ok, pending or stale.
func stateStyle(state string) lipgloss.Style {
	if state == stateOK {
		return cellStyle
	}
	return cellStyle.Foreground(ColorWarn)
}

// fetchStyle colors the fetch status column.
func fetchStyle(status string) lipgloss.Style {
	switch storage.FetchStatus(status) {
	case storage.FetchError, storage.FetchTimeout:
		return cellStyle.Foreground(ColorError)
	case storage.FetchNotModified:
		return cellStyle.Foreground(ColorMuted)
	}
	return cellStyle
}

func countStyle(n int, bad lipgloss.Color) lipgloss.Style {
	if n == 0 {
		return lipgloss.NewStyle().Foreground(ColorOK)
	}
	return lipgloss.NewStyle().Foreground(bad)
}
