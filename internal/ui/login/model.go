package login

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/theme"
)

// Mode selects between signing in and creating a mailbox.
type Mode string

const (
	ModeSignIn Mode = "signin"
	ModeCreate Mode = "create"
)

// SubmitMsg carries the completed form. The parent performs the sign-in
// and answers with ResultMsg.
type SubmitMsg struct {
	Mode     Mode
	Address  string
	Username string
	Domain   string
	Password string
}

// ResultMsg reports the outcome of a submitted form.
type ResultMsg struct {
	Err error
}

// CancelMsg is sent when the user aborts the form.
type CancelMsg struct{}

type step int

const (
	stepMode step = iota
	stepForm
	stepSubmitting
)

// fields live behind a pointer so huh keeps writing to the same values
// while Model is passed around by value.
type fields struct {
	mode     string
	address  string
	username string
	domain   string
	password string
}

// Model is the sign-in view shown when no account is stored.
type Model struct {
	step     step
	modeForm *huh.Form
	form     *huh.Form
	fields   *fields
	spinner  spinner.Model
	provider string
	err      error
	width    int
	height   int
}

// New creates a new login model for the named provider.
func New(provider string, width, height int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	m := Model{
		fields:   &fields{mode: string(ModeSignIn)},
		spinner:  s,
		provider: provider,
		width:    width,
		height:   height,
	}
	m.modeForm = m.buildModeForm()
	return m
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return m.modeForm.Init()
}

// Update handles messages for the login view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ResultMsg:
		if msg.Err == nil {
			return m, nil
		}
		m.err = msg.Err
		m.fields.password = ""
		m.step = stepForm
		m.form = m.buildForm()
		return m, m.form.Init()

	case spinner.TickMsg:
		if m.step != stepSubmitting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	switch m.step {
	case stepMode:
		return m.updateModeForm(msg)
	case stepForm:
		return m.updateForm(msg)
	}
	return m, nil
}

func (m Model) buildModeForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Mailbox").
				Description("Sign in to an existing mailbox or create a new one on " + m.provider).
				Options(
					huh.NewOption("Sign in", string(ModeSignIn)),
					huh.NewOption("Create a new mailbox", string(ModeCreate)),
				).
				Value(&m.fields.mode),
		),
	).WithWidth(m.formWidth())
}

func (m Model) buildForm() *huh.Form {
	if Mode(m.fields.mode) == ModeCreate {
		return huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Username").
					Description("The part before the @").
					Value(&m.fields.username).
					Validate(validateUsername),
				huh.NewInput().
					Title("Domain").
					Description("Leave empty to use the first active domain").
					Value(&m.fields.domain),
				huh.NewInput().
					Title("Password").
					EchoMode(huh.EchoModePassword).
					Value(&m.fields.password).
					Validate(validatePassword),
			),
		).WithWidth(m.formWidth())
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Address").
				Placeholder("me@example.com").
				Value(&m.fields.address).
				Validate(validateAddress),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&m.fields.password).
				Validate(validateRequired("Password")),
		),
	).WithWidth(m.formWidth())
}

func (m Model) updateModeForm(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.modeForm.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.modeForm = f
	}

	if m.modeForm.State == huh.StateCompleted {
		m.step = stepForm
		m.form = m.buildForm()
		return m, m.form.Init()
	}
	if m.modeForm.State == huh.StateAborted {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

func (m Model) updateForm(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.step = stepSubmitting
		m.err = nil
		submit := SubmitMsg{
			Mode:     Mode(m.fields.mode),
			Address:  strings.TrimSpace(m.fields.address),
			Username: strings.TrimSpace(m.fields.username),
			Domain:   strings.TrimSpace(m.fields.domain),
			Password: m.fields.password,
		}
		return m, tea.Batch(m.spinner.Tick, func() tea.Msg { return submit })
	}
	if m.form.State == huh.StateAborted {
		m.step = stepMode
		m.modeForm = m.buildModeForm()
		return m, m.modeForm.Init()
	}

	return m, cmd
}

// View renders the login view.
func (m Model) View() string {
	style := lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height)

	var content string
	switch m.step {
	case stepMode:
		content = m.modeForm.View()
	case stepForm:
		content = m.form.View()
	default:
		content = fmt.Sprintf("%s Signing in...", m.spinner.View())
	}

	if m.err != nil {
		content = lipgloss.JoinVertical(lipgloss.Left,
			theme.ErrorStyle.Render("Error: "+m.err.Error()),
			"",
			content,
		)
	}
	return style.Render(content)
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) formWidth() int {
	return max(min(m.width-4, 72), 20)
}

func validateRequired(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return fmt.Errorf("enter a full address like me@example.com")
	}
	return nil
}

func validateUsername(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("username is required")
	}
	if strings.ContainsAny(s, "@ ") {
		return fmt.Errorf("username must not contain @ or spaces")
	}
	return nil
}

func validatePassword(s string) error {
	if len(s) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	return nil
}
