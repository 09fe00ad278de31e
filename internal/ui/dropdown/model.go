package dropdown

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/hrnotify/internal/cache"
	"github.com/nhle/hrnotify/internal/keys"
	"github.com/nhle/hrnotify/internal/model"
	"github.com/nhle/hrnotify/internal/theme"
	"github.com/nhle/hrnotify/internal/ui/notiflist"
)

// Reader is the part of the reconciler the panel reads from.
type Reader interface {
	Dropdown(ctx context.Context, size int) (cache.Dropdown, error)
}

// LoadedMsg carries a freshly read panel.
type LoadedMsg struct {
	Dropdown cache.Dropdown
	Err      error
}

// OpenMsg asks the parent to show a notification.
type OpenMsg struct {
	Notification model.Notification
}

// ViewAllMsg asks the parent to switch to the full list.
type ViewAllMsg struct{}

// CloseMsg asks the parent to hide the panel.
type CloseMsg struct{}

// Model is the compact recent-notifications panel.
type Model struct {
	reader Reader
	keys   *keys.KeyMap
	size   int
	data   cache.Dropdown
	loaded bool
	err    error
	cursor int
	width  int
	now    func() time.Time
}

// New creates a panel showing up to size items.
func New(r Reader, k *keys.KeyMap, size, width int) Model {
	return Model{
		reader: r,
		keys:   k,
		size:   size,
		width:  width,
		now:    time.Now,
	}
}

// Load reads the panel from the cache, fetching missing regions.
func (m Model) Load() tea.Cmd {
	r, size := m.reader, m.size
	return func() tea.Msg {
		d, err := r.Dropdown(context.Background(), size)
		return LoadedMsg{Dropdown: d, Err: err}
	}
}

// Set replaces the panel contents directly, e.g. from a refresh result.
func (m *Model) Set(d cache.Dropdown) {
	m.data = d
	m.loaded = true
	m.err = nil
	m.clampCursor()
}

// Unread returns the badge count of the last load.
func (m Model) Unread() (int, bool) {
	return m.data.Unread, m.loaded
}

// Update handles messages for the panel.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		m.Set(msg.Dropdown)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Dropdown):
			return m, func() tea.Msg { return CloseMsg{} }
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.data.Items) {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Select):
			if m.cursor == len(m.data.Items) {
				return m, func() tea.Msg { return ViewAllMsg{} }
			}
			n := m.data.Items[m.cursor]
			return m, func() tea.Msg { return OpenMsg{Notification: n} }
		}
	}
	return m, nil
}

// View renders the panel.
func (m Model) View() string {
	w := m.panelWidth()
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)

	header := titleStyle.Render("Notifications")
	if m.loaded && m.data.Unread > 0 {
		header += " " + theme.HelpStyle.Render(fmt.Sprintf("(%d unread)", m.data.Unread))
	}

	lines := []string{header, ""}
	switch {
	case m.err != nil && !m.loaded:
		lines = append(lines, theme.ErrorStyle.Render(m.err.Error()))
	case !m.loaded:
		lines = append(lines, theme.HelpStyle.Render("Loading..."))
	case len(m.data.Items) == 0:
		lines = append(lines, theme.HelpStyle.Render("No notifications yet."))
	default:
		for i, n := range m.data.Items {
			lines = append(lines, truncate(notiflist.RenderLine(n, i == m.cursor, m.now()), w-4))
		}
	}

	footer := "View all"
	if m.data.More {
		footer += " →"
	}
	if m.cursor == len(m.data.Items) {
		footer = theme.SelectedItemStyle.Render(footer)
	} else {
		footer = theme.HelpStyle.Render(footer)
	}
	lines = append(lines, "", footer)

	return theme.DropdownStyle.Width(w).Render(strings.Join(lines, "\n"))
}

// SetWidth updates the available width.
func (m *Model) SetWidth(width int) {
	m.width = width
}

func (m *Model) clampCursor() {
	if m.cursor > len(m.data.Items) {
		m.cursor = len(m.data.Items)
	}
}

func (m Model) panelWidth() int {
	return min(max(m.width/2, 40), m.width)
}

func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}
