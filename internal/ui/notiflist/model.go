package notiflist

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/hrnotify/internal/cache"
	"github.com/nhle/hrnotify/internal/keys"
	"github.com/nhle/hrnotify/internal/model"
	"github.com/nhle/hrnotify/internal/theme"
)

// LoadedMsg carries the result of a list load.
type LoadedMsg struct {
	View cache.ListView
	Err  error
	seq  int
}

// SelectedMsg is sent when the user opens a notification.
type SelectedMsg struct {
	Notification model.Notification
}

// MarkReadMsg asks the parent to mark a notification read.
type MarkReadMsg struct {
	ID int64
}

// Reader is the part of the reconciler the list reads from.
type Reader interface {
	List(ctx context.Context, filter model.ListFilter, page, size int) (cache.ListView, error)
}

// Model is the full notification list with filter tabs and paging.
type Model struct {
	list      list.Model
	reader    Reader
	keys      *keys.KeyMap
	spinner   spinner.Model
	filterIdx int
	page      int
	size      int
	view      cache.ListView
	loading   bool
	err       error
	seq       int
	width     int
	height    int
}

// New creates a notification list reading pages of size from r.
func New(r Reader, k *keys.KeyMap, size, width, height int) Model {
	l := list.New([]list.Item{}, Delegate{}, width, height-3)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetShowPagination(false)
	l.SetFilteringEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	return Model{
		list:    l,
		reader:  r,
		keys:    k,
		spinner: sp,
		size:    size,
		width:   width,
		height:  height,
	}
}

// Filter returns the active filter.
func (m Model) Filter() model.ListFilter {
	return model.ListFilters[m.filterIdx]
}

// Page returns the zero-based page shown.
func (m Model) Page() int { return m.page }

// Loading reports whether a load is in flight.
func (m Model) Loading() bool { return m.loading }

// Err returns the last load error, if any.
func (m Model) Err() error { return m.err }

// Items returns the notifications shown.
func (m Model) Items() []model.Notification {
	items := m.list.Items()
	out := make([]model.Notification, 0, len(items))
	for _, it := range items {
		if n, ok := it.(Item); ok {
			out = append(out, n.Notification)
		}
	}
	return out
}

// Reload re-reads the current filter and page. Results of earlier loads
// that arrive late are discarded.
func (m *Model) Reload() tea.Cmd {
	m.seq++
	m.loading = true
	seq, filter, page, size, r := m.seq, m.Filter(), m.page, m.size, m.reader

	load := func() tea.Msg {
		v, err := r.List(context.Background(), filter, page, size)
		return LoadedMsg{View: v, Err: err, seq: seq}
	}
	return tea.Batch(load, m.spinner.Tick)
}

// MarkLocal flags id read in the displayed items before the server
// confirms it.
func (m *Model) MarkLocal(id int64) {
	items := m.list.Items()
	for i, it := range items {
		n, ok := it.(Item)
		if !ok || n.Notification.ID != id {
			continue
		}
		n.Notification.Read = true
		m.list.SetItem(i, n)
	}
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.loading = false
		m.err = msg.Err
		if msg.Err != nil {
			return m, nil
		}
		m.view = msg.View
		items := make([]list.Item, len(msg.View.Items))
		for i, n := range msg.View.Items {
			items[i] = Item{Notification: n}
		}
		cmd := m.list.SetItems(items)
		return m, cmd

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		item, ok := m.list.SelectedItem().(Item)
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedMsg{Notification: item.Notification}
		}

	case key.Matches(msg, m.keys.MarkRead):
		item, ok := m.list.SelectedItem().(Item)
		if !ok || item.Notification.Read {
			return m, nil
		}
		m.MarkLocal(item.Notification.ID)
		return m, func() tea.Msg {
			return MarkReadMsg{ID: item.Notification.ID}
		}

	case key.Matches(msg, m.keys.NextTab):
		m.filterIdx = (m.filterIdx + 1) % len(model.ListFilters)
		m.page = 0
		return m, m.Reload()

	case key.Matches(msg, m.keys.PrevTab):
		m.filterIdx = (m.filterIdx + len(model.ListFilters) - 1) % len(model.ListFilters)
		m.page = 0
		return m, m.Reload()

	case key.Matches(msg, m.keys.NextPage):
		if m.loading || !m.view.HasNext() {
			return m, nil
		}
		m.page++
		return m, m.Reload()

	case key.Matches(msg, m.keys.PrevPage):
		if m.loading || m.page == 0 {
			return m, nil
		}
		m.page--
		return m, m.Reload()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the tabs, the list and the page footer.
func (m Model) View() string {
	body := m.renderBody()
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), body, m.renderFooter())
}

func (m Model) renderTabs() string {
	tabs := make([]string, len(model.ListFilters))
	for i, f := range model.ListFilters {
		label := strings.ToUpper(string(f[:1])) + string(f[1:])
		if i == m.filterIdx {
			tabs[i] = theme.ActiveTabStyle.Render(label)
		} else {
			tabs[i] = theme.TabStyle.Render(label)
		}
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
	if m.loading {
		row += " " + m.spinner.View()
	}
	return row
}

func (m Model) renderBody() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height-3).
		Align(lipgloss.Center, lipgloss.Center)

	if m.err != nil {
		return style.Render(theme.ErrorStyle.Render("Could not load notifications: "+m.err.Error()) +
			"\n\n" + theme.HelpStyle.Render("Press r to retry."))
	}
	if len(m.list.Items()) == 0 {
		if m.loading {
			return style.Foreground(theme.ColorGray).Render("Loading notifications...")
		}
		return style.Foreground(theme.ColorGray).Render(m.emptyText())
	}
	return m.list.View()
}

func (m Model) emptyText() string {
	switch m.Filter() {
	case model.FilterUnread:
		return "You're all caught up."
	case model.FilterRead:
		return "No read notifications on this page."
	default:
		return "No notifications yet."
	}
}

func (m Model) renderFooter() string {
	if m.Filter() == model.FilterUnread {
		return theme.HelpStyle.Render(fmt.Sprintf("%d unread", len(m.list.Items())))
	}
	pages := m.view.TotalPages
	if pages == 0 {
		pages = 1
	}
	footer := fmt.Sprintf("page %d/%d · %d total", m.page+1, pages, m.view.TotalElements)
	if m.view.PartialPage {
		footer += " · read items of this page only"
	}
	return theme.HelpStyle.Render(footer)
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-3)
}
