package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/hrnotify/internal/live"
	"github.com/nhle/hrnotify/internal/model"
	"github.com/nhle/hrnotify/internal/ui/command"
)

// actionTimeout bounds a single user-triggered server call.
const actionTimeout = 20 * time.Second

// badgeMsg carries a freshly read unread count.
type badgeMsg struct {
	count int
	err   error
}

// actionResultMsg reports the outcome of a user action.
type actionResultMsg struct {
	success string
	failure string
	err     error
}

// verifyToken signs in with token and proves it against the unread-count
// endpoint. Login ends any previous session; a rejected token leaves the
// session signed out.
func (m Model) verifyToken(ctx context.Context, token string) (string, error) {
	svc := m.svc
	if _, err := svc.Session.Login(token); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	if _, err := svc.Notifications.FetchUnreadCount(ctx); err != nil {
		_ = svc.Session.Logout()
		return "", err
	}
	return svc.Session.Account(), nil
}

func (m *Model) openLogin() tea.Cmd {
	if m.currentView != ViewLogin {
		m.previousView = m.currentView
	}
	m.currentView = ViewLogin
	return m.loginView.Start()
}

// afterLogin scopes the cache to the new account, then starts live
// updates and reloads every view.
func (m *Model) afterLogin() tea.Cmd {
	svc := m.svc
	scope := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := svc.Reconciler.SetAccount(ctx, svc.Session.Account()); err != nil {
			svc.Logger.Warn("loading read receipts", zap.Error(err))
		}
		svc.Poller.RefreshAll()
		return nil
	}
	return tea.Batch(scope, m.list.Reload(), m.activateChannel())
}

func (m Model) activateChannel() tea.Cmd {
	ch, logger := m.svc.Channel, m.svc.Logger
	return func() tea.Msg {
		err := ch.Activate()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, live.ErrDisabled):
			logger.Debug("live updates disabled")
			return nil
		default:
			return actionResultMsg{failure: "Live updates unavailable", err: err}
		}
	}
}

func (m *Model) toggleLive() tea.Cmd {
	if m.svc.Channel.Enabled() {
		return m.setLive(false)
	}
	return m.setLive(true)
}

func (m *Model) setLive(on bool) tea.Cmd {
	m.svc.Channel.SetEnabled(on)
	if !on {
		m.setNotice("Live updates off", false)
		return nil
	}
	m.setNotice("Live updates on", false)
	if !m.svc.Session.Authenticated() {
		return nil
	}
	return m.activateChannel()
}

// openDetail shows n and marks it read when it is not already.
func (m *Model) openDetail(n model.Notification) tea.Cmd {
	m.previousView = m.currentView
	m.currentView = ViewDetail
	if n.Read {
		m.detail.SetNotification(n)
		return nil
	}
	m.list.MarkLocal(n.ID)
	n.Read = true
	m.detail.SetNotification(n)
	return m.markRead(n.ID)
}

func (m Model) markRead(id int64) tea.Cmd {
	r := m.svc.Reconciler
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		err := r.MarkRead(ctx, id)
		return actionResultMsg{failure: "Could not mark as read", err: err}
	}
}

func (m Model) markAllRead() tea.Cmd {
	if !m.svc.Session.Authenticated() {
		return nil
	}
	r := m.svc.Reconciler
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		err := r.MarkAllRead(ctx)
		return actionResultMsg{
			success: "All notifications marked as read",
			failure: "Could not mark all as read",
			err:     err,
		}
	}
}

func (m Model) send(req model.SendRequest) tea.Cmd {
	n := m.svc.Notifications
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		err := n.Send(ctx, req)
		return actionResultMsg{
			success: fmt.Sprintf("Sent %q to employee %d", req.Title, req.EmployeeID),
			failure: "Send failed",
			err:     err,
		}
	}
}

func (m Model) loadBadge() tea.Cmd {
	r := m.svc.Reconciler
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		count, err := r.Badge(ctx)
		return badgeMsg{count: count, err: err}
	}
}

func (m Model) logout() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		if err := svc.Session.Logout(); err != nil {
			return actionResultMsg{failure: "Sign-out incomplete", err: err}
		}
		return actionResultMsg{success: "Signed out"}
	}
}

// clearCache drops the cache and the account's stored receipts, then
// rescopes and refetches.
func (m Model) clearCache() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := svc.Reconciler.Forget(ctx); err != nil {
			return actionResultMsg{failure: "Clearing cache failed", err: err}
		}
		if svc.Session.Authenticated() {
			if err := svc.Reconciler.SetAccount(ctx, svc.Session.Account()); err != nil {
				return actionResultMsg{failure: "Clearing cache failed", err: err}
			}
			svc.Poller.RefreshAll()
		}
		return actionResultMsg{success: "Cache cleared"}
	}
}

// executeCommand handles a command from the command palette.
func (m *Model) executeCommand(cmd command.CommandMsg) tea.Cmd {
	switch cmd.Name {
	case command.Refresh, "sync":
		m.svc.Poller.RefreshAll()
		return nil
	case command.ReadAll:
		return m.markAllRead()
	case command.Send:
		m.previousView = m.currentView
		m.currentView = ViewSend
		return m.sendForm.Start()
	case command.Login:
		return m.openLogin()
	case command.Logout:
		return m.logout()
	case command.Live:
		if len(cmd.Args) == 0 {
			return m.toggleLive()
		}
		switch strings.ToLower(cmd.Args[0]) {
		case "on":
			return m.setLive(true)
		case "off":
			return m.setLive(false)
		}
		m.setNotice("usage: live on|off", true)
		return nil
	case command.ClearCache:
		return m.clearCache()
	case command.Quit, "q":
		return m.quit()
	default:
		m.setNotice(fmt.Sprintf("Unknown command %q", cmd.Name), true)
		return nil
	}
}
