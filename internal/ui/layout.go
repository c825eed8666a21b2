package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	appsync "github.com/nhle/tempmail/internal/sync"
	"github.com/nhle/tempmail/internal/theme"
)

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	return l.Height - l.HeaderHeight - l.StatusBarHeight
}

// RenderHeader renders the top bar: the mailbox address on the left, the
// unread count and the sync state badge on the right.
func (l Layout) RenderHeader(address string, state appsync.State, unread int) string {
	bg := theme.HeaderStyle.GetBackground()

	titleRendered := theme.HeaderStyle.Render("tempmail  " + address)

	unreadRendered := theme.UnreadBadgeStyle(unread).
		Background(bg).
		Render(fmt.Sprintf("%d unread", unread))

	stateRendered := theme.SyncStyle(state).
		Background(bg).
		Render("● " + theme.SyncLabel(state))

	gap := l.Width -
		lipgloss.Width(titleRendered) -
		lipgloss.Width(unreadRendered) -
		lipgloss.Width(stateRendered)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(bg).
		Render("")

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		titleRendered,
		filler,
		unreadRendered,
		stateRendered,
	)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)

	gap := l.Width - lipgloss.Width(rendered)
	if gap < 0 {
		gap = 0
	}

	filler := theme.StatusBarStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.StatusBarStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(
	header string,
	content string,
	statusBar string,
) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}
