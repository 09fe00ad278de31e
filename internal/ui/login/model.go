package login

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/hrnotify/internal/keys"
	"github.com/nhle/hrnotify/internal/theme"
)

// Mode is the current step of the login view.
type Mode int

const (
	ModeForm       Mode = iota // Token input
	ModeValidating             // Verifying against the server
	ModeResult                 // Verification failed
)

// Verifier signs in with token and checks it against the server. It
// returns a display name for the signed-in account.
type Verifier func(ctx context.Context, token string) (string, error)

// DoneMsg signals a successful sign-in.
type DoneMsg struct {
	Account string
}

// CancelMsg signals the user closed the view without signing in.
type CancelMsg struct{}

// verifiedMsg carries the verification result.
type verifiedMsg struct {
	account string
	err     error
}

type formBindings struct {
	token string
}

// Model is the sign-in view.
type Model struct {
	mode    Mode
	form    *huh.Form
	fb      *formBindings
	verify  Verifier
	spinner spinner.Model
	err     error
	keys    *keys.KeyMap
	width   int
	height  int
}

// New creates a new login view model.
func New(verify Verifier, k *keys.KeyMap, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	return Model{
		fb:      &formBindings{},
		verify:  verify,
		spinner: sp,
		keys:    k,
		width:   width,
		height:  height,
	}
}

// Mode returns the current step.
func (m Model) Mode() Mode { return m.mode }

// Start shows an empty token form.
func (m *Model) Start() tea.Cmd {
	m.mode = ModeForm
	m.err = nil
	m.fb.token = ""
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Access token").
				Description("Paste the bearer token issued by the HR portal.").
				EchoMode(huh.EchoModePassword).
				Value(&m.fb.token).
				Validate(validateToken),
		),
	).WithWidth(min(max(m.width-8, 40), 100))
	return m.form.Init()
}

// Update handles messages for the login view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case verifiedMsg:
		if msg.err != nil {
			m.mode = ModeResult
			m.err = msg.err
			return m, nil
		}
		return m, func() tea.Msg { return DoneMsg{Account: msg.account} }

	case spinner.TickMsg:
		if m.mode != ModeValidating {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.mode == ModeResult {
			switch {
			case key.Matches(msg, m.keys.Back):
				return m, func() tea.Msg { return CancelMsg{} }
			case msg.String() == "enter":
				return m, m.Start()
			}
			return m, nil
		}
	}

	if m.mode != ModeForm || m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.mode = ModeValidating
		token, verify := strings.TrimSpace(m.fb.token), m.verify
		return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
			account, err := verify(context.Background(), token)
			return verifiedMsg{account: account, err: err}
		})
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

// View renders the login view.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	var body string
	switch m.mode {
	case ModeValidating:
		body = m.spinner.View() + " Verifying token..."
	case ModeResult:
		body = theme.ErrorStyle.Render(fmt.Sprintf("Sign-in failed: %v", m.err)) +
			"\n\n" + theme.HelpStyle.Render("enter to try again · esc to cancel")
	default:
		if m.form != nil {
			body = m.form.View()
		}
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(titleStyle.Render("Sign In") + "\n" + body)
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func validateToken(s string) error {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "Bearer "))
	if s == "" {
		return fmt.Errorf("token is required")
	}
	if strings.Count(s, ".") != 2 {
		return fmt.Errorf("token does not look like a JWT")
	}
	return nil
}
