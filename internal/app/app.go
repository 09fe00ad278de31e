package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/hrnotify/internal/cache"
	"github.com/nhle/hrnotify/internal/hrms"
	"github.com/nhle/hrnotify/internal/keys"
	"github.com/nhle/hrnotify/internal/live"
	"github.com/nhle/hrnotify/internal/session"
	appsync "github.com/nhle/hrnotify/internal/sync"
	"github.com/nhle/hrnotify/internal/ui"
	"github.com/nhle/hrnotify/internal/ui/command"
	"github.com/nhle/hrnotify/internal/ui/detail"
	"github.com/nhle/hrnotify/internal/ui/dropdown"
	helpview "github.com/nhle/hrnotify/internal/ui/help"
	"github.com/nhle/hrnotify/internal/ui/login"
	"github.com/nhle/hrnotify/internal/ui/notiflist"
	"github.com/nhle/hrnotify/internal/ui/sendform"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewDetail
	ViewDropdown
	ViewSend
	ViewLogin
	ViewHelp
	ViewCommand
)

// Services are the long-lived collaborators the root model drives.
type Services struct {
	Session       *session.Manager
	Notifications *hrms.Notifications
	Reconciler    *cache.Reconciler
	Poller        *appsync.Poller
	Channel       *live.Channel
	Logger        *zap.Logger
	PageSize      int
	DropdownSize  int
}

// Model is the root Bubble Tea model that manages view routing, layout
// and the background services.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	svc          Services
	keys         *keys.KeyMap
	list         notiflist.Model
	detail       detail.Model
	dropdown     dropdown.Model
	sendForm     sendform.Model
	loginView    login.Model
	helpView     helpview.Model
	commandView  command.Model
	ready        bool
	unread       int
	unreadKnown  bool
	channel      live.State
	notice       string
	noticeIsErr  bool
}

// New creates the root application model.
func New(svc Services) Model {
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	if svc.PageSize <= 0 {
		svc.PageSize = 20
	}
	if svc.DropdownSize <= 0 {
		svc.DropdownSize = 5
	}

	k := keys.DefaultKeyMap()
	m := Model{
		currentView: ViewList,
		svc:         svc,
		keys:        k,
		list:        notiflist.New(svc.Reconciler, k, svc.PageSize, 80, 24),
		detail:      detail.New(k, 80, 24),
		dropdown:    dropdown.New(svc.Reconciler, k, svc.DropdownSize, 80),
		sendForm:    sendform.New(80, 24),
		helpView:    helpview.New(k, command.Names, 80, 24),
		commandView: command.New(80, 24),
	}
	m.loginView = login.New(m.verifyToken, k, 80, 24)
	return m
}

// Init starts the poller and, when signed in, the live channel. The list
// loads on the first window size, where the model can be updated.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.svc.Poller.Start()}
	if m.svc.Session.Authenticated() {
		cmds = append(cmds, m.activateChannel())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		first := !m.ready
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.list.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.dropdown.SetWidth(w)
		m.sendForm.SetSize(w, h)
		m.loginView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		if first {
			if !m.svc.Session.Authenticated() {
				return m, m.openLogin()
			}
			return m, m.list.Reload()
		}
		return m.updateActiveView(msg)

	case appsync.RefreshResultMsg:
		switch {
		case msg.AuthError != nil:
			m.setNotice(msg.AuthError.Message, true)
		case msg.Error != nil:
			m.setNotice("Refresh failed: "+msg.Error.Error(), true)
		default:
			m.dropdown.Set(msg.Dropdown)
			m.unread, m.unreadKnown = msg.Dropdown.Unread, true
			if m.noticeIsErr {
				m.clearNotice()
			}
		}
		return m, m.svc.Poller.WaitForNextResult()

	case appsync.RegionsChangedMsg:
		cmds := []tea.Cmd{m.svc.Poller.WaitForNextResult()}
		if !m.svc.Session.Authenticated() {
			return m, tea.Batch(cmds...)
		}
		if msg.Regions.Has(cache.RegionCount) {
			m.syncBadge()
			cmds = append(cmds, m.loadBadge())
		}
		if msg.Regions.Has(cache.RegionPaged) || msg.Regions.Has(cache.RegionUnread) {
			cmds = append(cmds, m.list.Reload())
			if m.currentView == ViewDropdown {
				cmds = append(cmds, m.dropdown.Load())
			}
		}
		return m, tea.Batch(cmds...)

	case appsync.NotificationArrivedMsg:
		m.setNotice("New: "+msg.Notification.Title, false)
		return m, m.svc.Poller.WaitForNextResult()

	case appsync.UnreadCountMsg:
		m.unread, m.unreadKnown = msg.Count, true
		return m, m.svc.Poller.WaitForNextResult()

	case appsync.ChannelStateMsg:
		m.channel = msg.State
		return m, m.svc.Poller.WaitForNextResult()

	case appsync.ChannelErrorMsg:
		if hrms.IsAuthError(msg.Err) {
			m.setNotice("Session expired. Press 'L' to sign in again.", true)
		} else {
			m.setNotice("Live updates stopped: "+msg.Err.Error(), true)
		}
		return m, m.svc.Poller.WaitForNextResult()

	case badgeMsg:
		if msg.err == nil {
			m.unread, m.unreadKnown = msg.count, true
		}
		return m, nil

	case actionResultMsg:
		if msg.err != nil {
			m.svc.Session.Check(msg.err)
			m.setNotice(msg.failure+": "+msg.err.Error(), true)
			return m, nil
		}
		if msg.success != "" {
			m.setNotice(msg.success, false)
		}
		return m, nil

	case notiflist.SelectedMsg:
		return m, m.openDetail(msg.Notification)

	case notiflist.MarkReadMsg:
		return m, m.markRead(msg.ID)

	case dropdown.OpenMsg:
		return m, m.openDetail(msg.Notification)

	case dropdown.ViewAllMsg:
		m.currentView = ViewList
		return m, m.list.Reload()

	case dropdown.CloseMsg:
		m.currentView = m.previousView
		return m, nil

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case sendform.SubmitMsg:
		m.currentView = m.previousView
		return m, m.send(msg.Request)

	case sendform.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case login.DoneMsg:
		m.currentView = ViewList
		m.setNotice("Signed in as "+msg.Account, false)
		return m, m.afterLogin()

	case login.CancelMsg:
		m.currentView = ViewList
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(msg)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if m.capturesInput() {
			break
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.currentView == ViewList {
				return m, m.quit()
			}
		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil
		case key.Matches(msg, m.keys.Command):
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()
		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
		case key.Matches(msg, m.keys.ToggleLive):
			return m, m.toggleLive()
		}

		if m.currentView == ViewList {
			switch {
			case key.Matches(msg, m.keys.Refresh):
				m.svc.Poller.RefreshAll()
				return m, nil
			case key.Matches(msg, m.keys.Dropdown):
				m.previousView = m.currentView
				m.currentView = ViewDropdown
				return m, m.dropdown.Load()
			case key.Matches(msg, m.keys.MarkAllRead):
				return m, m.markAllRead()
			case key.Matches(msg, m.keys.Send):
				m.previousView = m.currentView
				m.currentView = ViewSend
				return m, m.sendForm.Start()
			case key.Matches(msg, m.keys.Login):
				return m, m.openLogin()
			}
		}
	}

	return m.updateActiveView(msg)
}

// capturesInput reports whether the active view consumes plain keys as
// text, so global bindings must not fire.
func (m Model) capturesInput() bool {
	switch m.currentView {
	case ViewSend, ViewLogin, ViewCommand:
		return true
	}
	return false
}

// updateActiveView dispatches the message to the currently active view.
// List and dropdown loads are routed by type so they land even when the
// view is hidden.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.(type) {
	case notiflist.LoadedMsg:
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	case dropdown.LoadedMsg:
		m.dropdown, cmd = m.dropdown.Update(msg)
		return m, cmd
	}

	if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, m.keys.Back) {
		switch m.currentView {
		case ViewCommand, ViewSend:
			m.currentView = m.previousView
			return m, nil
		case ViewLogin:
			if m.loginView.Mode() != login.ModeValidating {
				m.currentView = ViewList
				return m, nil
			}
		}
	}

	switch m.currentView {
	case ViewList:
		m.list, cmd = m.list.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewDropdown:
		m.dropdown, cmd = m.dropdown.Update(msg)
	case ViewSend:
		m.sendForm, cmd = m.sendForm.Update(msg)
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}
	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	badge := ""
	if m.svc.Session.Authenticated() {
		badge = ui.Badge(m.unread, m.unreadKnown)
	}
	header := m.layout.RenderHeader("HR Notifications", badge, m.statusLine())
	statusBar := m.layout.RenderStatusBar(m.keyHints())
	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.list.View()
	case ViewDetail:
		return m.detail.View()
	case ViewDropdown:
		return m.layout.RenderOverlay(m.dropdown.View())
	case ViewSend:
		return m.sendForm.View()
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

func (m *Model) setNotice(text string, isErr bool) {
	m.notice = text
	m.noticeIsErr = isErr
}

func (m *Model) clearNotice() {
	m.notice = ""
	m.noticeIsErr = false
}

// syncBadge takes the cached count when one is held; otherwise the last
// known value stays until loadBadge answers.
func (m *Model) syncBadge() {
	if n, ok := m.svc.Reconciler.CachedUnreadCount(); ok {
		m.unread, m.unreadKnown = n, true
	}
}

func (m Model) quit() tea.Cmd {
	m.svc.Poller.Stop()
	m.svc.Channel.Deactivate()
	return tea.Quit
}
