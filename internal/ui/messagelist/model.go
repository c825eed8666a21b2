package messagelist

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/keys"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/theme"
)

// SelectedMessageMsg is sent when the user opens a message.
type SelectedMessageMsg struct {
	Message model.Message
}

// DeleteMessageMsg is sent when the user asks to delete a message.
type DeleteMessageMsg struct {
	Message model.Message
}

// Model is the mailbox message list view.
type Model struct {
	list        list.Model
	keys        *keys.KeyMap
	messages    []model.Message
	query       string
	searchMode  bool
	searchInput textinput.Model
	width       int
	height      int
}

// New creates a new message list model.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-2)
	l.Title = "Inbox"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "search subject or sender..."
	si.Prompt = "/ "
	si.Width = width - 4

	return Model{
		list:        l,
		keys:        k,
		searchInput: si,
		width:       width,
		height:      height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// SetMessages replaces the list content, keeping the cursor on the same
// message when it is still present.
func (m *Model) SetMessages(msgs []model.Message) tea.Cmd {
	m.messages = append([]model.Message(nil), msgs...)
	return m.applyFilter()
}

// MarkSeen flips the seen marker of one message locally.
func (m *Model) MarkSeen(id string) tea.Cmd {
	for i := range m.messages {
		if m.messages[i].ID == id {
			if !m.messages[i].MarkSeen() {
				return nil
			}
			return m.applyFilter()
		}
	}
	return nil
}

// Messages returns the unfiltered messages.
func (m Model) Messages() []model.Message {
	return m.messages
}

func (m *Model) applyFilter() tea.Cmd {
	selected := ""
	if item, ok := m.list.SelectedItem().(MessageItem); ok {
		selected = item.Message.ID
	}

	q := strings.ToLower(m.query)
	items := make([]list.Item, 0, len(m.messages))
	cursor := 0
	for _, msg := range m.messages {
		item := MessageItem{Message: msg}
		if q != "" && !strings.Contains(strings.ToLower(item.FilterValue()), q) {
			continue
		}
		if msg.ID == selected {
			cursor = len(items)
		}
		items = append(items, item)
	}

	cmd := m.list.SetItems(items)
	if len(items) > 0 {
		m.list.Select(cursor)
	}
	return cmd
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// Searching reports whether the search input has focus.
func (m Model) Searching() bool {
	return m.searchMode
}

func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		m.query = strings.TrimSpace(m.searchInput.Value())
		return m, m.applyFilter()

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.query = ""
		return m, m.applyFilter()
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		item, ok := m.list.SelectedItem().(MessageItem)
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedMessageMsg{Message: item.Message}
		}

	case key.Matches(msg, m.keys.Delete):
		item, ok := m.list.SelectedItem().(MessageItem)
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return DeleteMessageMsg{Message: item.Message}
		}

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.Reset()
		return m, m.searchInput.Focus()
	}

	// Delegate to the list for navigation keys (up/down/pgup/pgdn)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the message list.
func (m Model) View() string {
	if m.searchMode {
		searchBar := lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
		return lipgloss.JoinVertical(lipgloss.Left, searchBar, m.list.View())
	}

	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	return m.list.View()
}

func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.query != "" && len(m.messages) > 0 {
		return style.Render("No matching messages.\nPress / and clear the search.")
	}

	return style.Render("No messages yet.\n\nNew mail shows up here as it arrives.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}
