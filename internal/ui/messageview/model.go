package messageview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/keys"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/theme"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// DeleteMsg asks the parent to delete the displayed message.
type DeleteMsg struct {
	Message model.Message
}

// Model shows the headers and preview of one message.
type Model struct {
	msg      *model.Message
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
}

// New creates a new message view model.
func New(k *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     k,
		width:    width,
		height:   height,
	}
}

// Init returns the initial command for the view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg {
				return BackMsg{}
			}

		case key.Matches(msg, m.keys.Delete):
			if m.msg != nil {
				cur := *m.msg
				return m, func() tea.Msg {
					return DeleteMsg{Message: cur}
				}
			}
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the message view.
func (m Model) View() string {
	if m.msg == nil {
		emptyStyle := lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray)
		return emptyStyle.Render("No message selected")
	}

	return m.viewport.View()
}

func (m Model) renderContent() string {
	if m.msg == nil {
		return ""
	}

	msg := m.msg
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	sections = append(sections, titleStyle.Render(subject))
	sections = append(sections, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) {
		sections = append(sections, fmt.Sprintf("%s %s",
			metaStyle.Render(fmt.Sprintf("%-9s", label+":")),
			valStyle.Render(value),
		))
	}

	row("From", msg.From.String())
	if len(msg.To) > 0 {
		to := make([]string, len(msg.To))
		for i, a := range msg.To {
			to[i] = a.String()
		}
		row("To", strings.Join(to, ", "))
	}
	if !msg.CreatedAt.IsZero() {
		row("Date", msg.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if msg.Size > 0 {
		row("Size", fmt.Sprintf("%d bytes", msg.Size))
	}
	if msg.HasAttachments {
		row("Files", "has attachments")
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
	sections = append(sections, "", separator, "")

	intro := msg.Intro
	if intro == "" {
		intro = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No preview")
	}
	sections = append(sections, intro)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetMessage updates the message being displayed.
func (m *Model) SetMessage(msg model.Message) {
	m.msg = &msg
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// Message returns the displayed message, if any.
func (m Model) Message() (model.Message, bool) {
	if m.msg == nil {
		return model.Message{}, false
	}
	return *m.msg, true
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.msg != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
