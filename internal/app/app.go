package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/tempmail/internal/keys"
	"github.com/nhle/tempmail/internal/model"
	appsync "github.com/nhle/tempmail/internal/sync"
	"github.com/nhle/tempmail/internal/ui"
	"github.com/nhle/tempmail/internal/ui/command"
	helpview "github.com/nhle/tempmail/internal/ui/help"
	"github.com/nhle/tempmail/internal/ui/login"
	"github.com/nhle/tempmail/internal/ui/messagelist"
	"github.com/nhle/tempmail/internal/ui/messageview"
)

// Mailbox is what the terminal UI needs from a Session.
type Mailbox interface {
	Events() <-chan any
	Restore(ctx context.Context) (model.Account, error)
	Login(ctx context.Context, address, password string) (model.Account, error)
	Create(ctx context.Context, username, domain, password string) (model.Account, error)
	SwitchAddress(ctx context.Context, address string) (model.Account, error)
	Logout(ctx context.Context) error
	Account() model.Account
	State() appsync.State
	Refresh()
	Reconnect()
	Fallback() bool
	SetFallback(ctx context.Context, enabled bool) error
	MarkRead(ctx context.Context, msg model.Message) error
	Delete(ctx context.Context, id string) error
	UnreadCount(ctx context.Context) (int, error)
}

// unreadCountMsg carries the number of unread notifications to the UI.
type unreadCountMsg struct {
	count int
}

// signedInMsg reports the outcome of restoring or signing in.
type signedInMsg struct {
	account  model.Account
	err      error
	restored bool
}

// actionDoneMsg reports a finished background action for the status bar.
type actionDoneMsg struct {
	status string
	err    error
}

// markedReadMsg reports that a message was marked read.
type markedReadMsg struct {
	id  string
	err error
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewMessage
	ViewLogin
	ViewHelp
	ViewCommand
)

// Model is the root Bubble Tea model that manages view routing and
// layout, and forwards user actions to the mailbox session.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	mailbox      Mailbox
	provider     string
	keys         *keys.KeyMap
	messageList  messagelist.Model
	messageView  messageview.Model
	loginView    login.Model
	helpView     helpview.Model
	commandView  command.Model
	syncState    appsync.State
	ready        bool
	unreadCount  int
	statusMsg    string
	errorMsg     string
}

// New creates a new root application model on top of mb. provider is the
// display name shown on the login form.
func New(mb Mailbox, provider string) Model {
	k := keys.DefaultKeyMap()

	return Model{
		currentView: ViewList,
		mailbox:     mb,
		provider:    provider,
		keys:        k,
		messageList: messagelist.New(k, 80, 24),
		messageView: messageview.New(k, 80, 24),
		loginView:   login.New(provider, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		commandView: command.New(80, 24),
		syncState:   mb.State(),
	}
}

// Init restores the stored session and starts listening for sync events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForEvent(),
		m.restoreSession(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.messageList.SetSize(contentWidth, contentHeight)
		m.messageView.SetSize(contentWidth, contentHeight)
		m.loginView.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case MessageEvent:
		m.statusMsg = fmt.Sprintf("New mail from %s", msg.Message.From.String())
		return m, tea.Batch(m.waitForEvent(), m.fetchUnreadCount())

	case ListEvent:
		cmd := m.messageList.SetMessages(msg.Messages)
		return m, tea.Batch(cmd, m.waitForEvent(), m.fetchUnreadCount())

	case StateEvent:
		m.syncState = msg.State
		return m, m.waitForEvent()

	case AuthExpiredEvent:
		m.errorMsg = fmt.Sprintf("session for %s expired, sign in again", msg.Account.Address)
		return m.showLogin(m.waitForEvent())

	case signedInMsg:
		if msg.err != nil {
			if msg.restored {
				if !errors.Is(msg.err, ErrNoSession) {
					m.errorMsg = msg.err.Error()
				}
				return m.showLogin(nil)
			}
			if m.currentView != ViewLogin {
				m.errorMsg = msg.err.Error()
				return m, nil
			}
			var cmd tea.Cmd
			m.loginView, cmd = m.loginView.Update(login.ResultMsg{Err: msg.err})
			return m, cmd
		}
		m.errorMsg = ""
		m.statusMsg = "signed in as " + msg.account.Address
		m.currentView = ViewList
		m.messageList.SetMessages(nil)
		return m, m.fetchUnreadCount()

	case login.SubmitMsg:
		return m, m.signIn(msg)

	case login.CancelMsg:
		if m.mailbox.Account().ID == "" {
			return m, tea.Quit
		}
		m.currentView = ViewList
		return m, nil

	case unreadCountMsg:
		m.unreadCount = msg.count
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.errorMsg = msg.err.Error()
		} else {
			m.errorMsg = ""
			m.statusMsg = msg.status
		}
		return m, m.fetchUnreadCount()

	case markedReadMsg:
		if msg.err != nil {
			m.errorMsg = msg.err.Error()
			return m, nil
		}
		return m, tea.Batch(m.messageList.MarkSeen(msg.id), m.fetchUnreadCount())

	case messagelist.SelectedMessageMsg:
		m.previousView = m.currentView
		m.currentView = ViewMessage
		m.messageView.SetMessage(msg.Message)
		return m, m.markRead(msg.Message)

	case messagelist.DeleteMessageMsg:
		return m, m.deleteMessage(msg.Message)

	case messageview.DeleteMsg:
		m.currentView = ViewList
		return m, m.deleteMessage(msg.Message)

	case messageview.BackMsg:
		m.currentView = ViewList
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m.executeCommand(msg)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.currentView == ViewLogin || (m.currentView == ViewList && m.messageList.Searching()) {
			break
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.currentView == ViewList {
				return m, tea.Quit
			}

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewCommand {
				break
			}
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Command):
			if m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()

		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewHelp || m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}

		case key.Matches(msg, m.keys.Refresh):
			if m.currentView == ViewList {
				m.mailbox.Refresh()
				m.statusMsg = "refreshing..."
				return m, nil
			}

		case key.Matches(msg, m.keys.Reconnect):
			if m.currentView == ViewList {
				m.mailbox.Reconnect()
				m.statusMsg = "reconnecting..."
				return m, nil
			}

		case key.Matches(msg, m.keys.ToggleFallback):
			if m.currentView == ViewList {
				return m, m.setFallback(!m.mailbox.Fallback())
			}
		}
	}

	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.messageList, cmd = m.messageList.Update(msg)
	case ViewMessage:
		m.messageView, cmd = m.messageView.Update(msg)
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

func (m Model) showLogin(extra tea.Cmd) (tea.Model, tea.Cmd) {
	m.currentView = ViewLogin
	m.loginView = login.New(m.provider, m.layout.ContentWidth(), m.layout.ContentHeight())
	return m, tea.Batch(m.loginView.Init(), extra)
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader(m.mailbox.Account().Address, m.syncState, m.unreadCount)
	content := m.renderContent()
	statusBar := m.layout.RenderStatusBar(m.keyHints())

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.messageList.View()
	case ViewMessage:
		return m.messageView.View()
	case ViewLogin:
		return m.loginView.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.errorMsg != "" && m.currentView != ViewLogin {
		return "⚠ " + m.errorMsg
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return ": close command | enter execute | esc back"
	case ViewMessage:
		return "esc back | d delete | j/k scroll"
	case ViewLogin:
		return "enter next | shift+tab back | ctrl+c quit"
	default:
		fallback := "off"
		if m.mailbox.Fallback() {
			fallback = "on"
		}
		hints := fmt.Sprintf("q quit | ? help | r refresh | f polling: %s | enter open | d delete | / search", fallback)
		if m.syncState.Degraded() {
			hints += " | R reconnect"
		}
		if m.statusMsg != "" {
			return m.statusMsg + " | " + hints
		}
		return hints
	}
}

// waitForEvent returns a tea.Cmd that blocks until the next session event.
func (m Model) waitForEvent() tea.Cmd {
	ch := m.mailbox.Events()
	return func() tea.Msg {
		return <-ch
	}
}

func (m Model) restoreSession() tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		acc, err := mb.Restore(context.Background())
		return signedInMsg{account: acc, err: err, restored: true}
	}
}

func (m Model) signIn(req login.SubmitMsg) tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		var (
			acc model.Account
			err error
		)
		if req.Mode == login.ModeCreate {
			acc, err = mb.Create(ctx, req.Username, req.Domain, req.Password)
		} else {
			acc, err = mb.Login(ctx, req.Address, req.Password)
		}
		return signedInMsg{account: acc, err: err}
	}
}

// fetchUnreadCount returns a tea.Cmd that queries the store for the
// number of unread notifications.
func (m Model) fetchUnreadCount() tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		count, err := mb.UnreadCount(context.Background())
		if err != nil {
			return unreadCountMsg{count: 0}
		}
		return unreadCountMsg{count: count}
	}
}

func (m Model) markRead(msg model.Message) tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return markedReadMsg{id: msg.ID, err: mb.MarkRead(ctx, msg)}
	}
}

func (m Model) deleteMessage(msg model.Message) tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := mb.Delete(ctx, msg.ID); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: "deleted " + subjectOf(msg)}
	}
}

func (m Model) setFallback(enabled bool) tea.Cmd {
	mb := m.mailbox
	return func() tea.Msg {
		if err := mb.SetFallback(context.Background(), enabled); err != nil {
			return actionDoneMsg{err: err}
		}
		if enabled {
			return actionDoneMsg{status: "polling fallback on"}
		}
		return actionDoneMsg{status: "polling fallback off"}
	}
}

// executeCommand handles a parsed command from the command palette.
func (m Model) executeCommand(cmd command.CommandMsg) (tea.Model, tea.Cmd) {
	mb := m.mailbox
	switch cmd.Name {
	case command.Refresh:
		mb.Refresh()
		m.statusMsg = "refreshing..."
		return m, nil
	case command.Reconnect:
		mb.Reconnect()
		m.statusMsg = "reconnecting..."
		return m, nil
	case command.Fallback:
		return m, m.setFallback(cmd.Args[0] == "on")
	case command.Switch:
		address := cmd.Args[0]
		return m, func() tea.Msg {
			acc, err := mb.SwitchAddress(context.Background(), address)
			return signedInMsg{account: acc, err: err}
		}
	case command.Logout:
		if err := mb.Logout(context.Background()); err != nil {
			m.errorMsg = err.Error()
			return m, nil
		}
		m.messageList.SetMessages(nil)
		m.unreadCount = 0
		return m.showLogin(nil)
	}
	return m, nil
}

func subjectOf(msg model.Message) string {
	if msg.Subject == "" {
		return "(no subject)"
	}
	return fmt.Sprintf("%q", msg.Subject)
}
