package theme

import (
	"github.com/charmbracelet/lipgloss"

	appsync "github.com/nhle/tempmail/internal/sync"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// DetailPanelStyle wraps the detail view content area.
var DetailPanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ListItemStyle is the base style for items in a list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// UnseenStyle marks messages that have not been read yet.
var UnseenStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite)

// SeenStyle dims messages that have been read.
var SeenStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// ErrorStyle renders error text in the status bar and forms.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(ColorRed)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// BorderStyle provides a standard rounded border for panels.
var BorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// SyncLabel returns the short header label for a sync state.
func SyncLabel(s appsync.State) string {
	switch s {
	case appsync.Live:
		return "Live"
	case appsync.DegradedPolling:
		return "Polling"
	case appsync.DegradedNoFallback:
		return "Offline"
	default:
		return "Connecting"
	}
}

// SyncStyle returns a color-coded badge style for the given sync state.
func SyncStyle(s appsync.State) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch s {
	case appsync.Live:
		return base.Foreground(ColorGreen)
	case appsync.DegradedPolling:
		return base.Foreground(ColorYellow)
	case appsync.DegradedNoFallback:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorBlue)
	}
}

// UnreadBadgeStyle returns the style of the unread-count badge.
func UnreadBadgeStyle(count int) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	if count > 0 {
		return base.Foreground(ColorOrange)
	}
	return base.Foreground(ColorGray)
}
