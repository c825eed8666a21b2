package help

import (
	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/keys"
	appsync "github.com/nhle/tempmail/internal/sync"
	"github.com/nhle/tempmail/internal/theme"
)

var stateLegend = []struct {
	state appsync.State
	text  string
}{
	{appsync.Live, "push updates over the event stream"},
	{appsync.DegradedPolling, "stream down, checking every poll interval"},
	{appsync.DegradedNoFallback, "stream down, polling off (f to enable, r to check)"},
	{appsync.Connecting, "waiting for the first stream outcome"},
}

// Model is the help overlay view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	m.help.Width = m.width - 4
	m.help.ShowAll = true
	helpText := m.help.View(m.keys)

	descStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	legend := make([]string, 0, len(stateLegend))
	for _, l := range stateLegend {
		badge := theme.SyncStyle(l.state).Width(14).Render(theme.SyncLabel(l.state))
		legend = append(legend, badge+descStyle.Render(l.text))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Keyboard Shortcuts"),
		helpText,
		"",
		titleStyle.Render("Sync States"),
		lipgloss.JoinVertical(lipgloss.Left, legend...),
	)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
