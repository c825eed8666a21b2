package command

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/theme"
)

// Names of the palette commands.
const (
	Refresh   = "refresh"
	Reconnect = "reconnect"
	Fallback  = "fallback"
	Switch    = "switch"
	Logout    = "logout"
)

var usage = "refresh | reconnect | fallback on|off | switch <address> | logout"

// CommandMsg is emitted when the user executes a command.
type CommandMsg struct {
	Name string
	Args []string
}

// Parse splits a command line into a CommandMsg and checks its arity.
func Parse(line string) (CommandMsg, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return CommandMsg{}, fmt.Errorf("empty command")
	}
	cmd := CommandMsg{Name: strings.ToLower(fields[0]), Args: fields[1:]}

	switch cmd.Name {
	case Refresh, Reconnect, Logout:
		if len(cmd.Args) != 0 {
			return CommandMsg{}, fmt.Errorf("%s takes no arguments", cmd.Name)
		}
	case Fallback:
		if len(cmd.Args) != 1 || (cmd.Args[0] != "on" && cmd.Args[0] != "off") {
			return CommandMsg{}, fmt.Errorf("usage: fallback on|off")
		}
	case Switch:
		if len(cmd.Args) != 1 {
			return CommandMsg{}, fmt.Errorf("usage: switch <address>")
		}
	default:
		return CommandMsg{}, fmt.Errorf("unknown command %q", cmd.Name)
	}
	return cmd, nil
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	err    error
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = usage
	ti.Prompt = ": "
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		line := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if line == "" {
			return m, nil
		}
		cmd, err := Parse(line)
		m.err = err
		if err != nil {
			return m, nil
		}
		return m, func() tea.Msg {
			return cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{titleStyle.Render("Command Palette"), m.input.View()}
	if m.err != nil {
		parts = append(parts, "", theme.ErrorStyle.Render(m.err.Error()))
	}

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	m.err = nil
	return m.input.Focus()
}
