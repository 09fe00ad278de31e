package app

import (
	"fmt"
	"strings"

	"github.com/nhle/hrnotify/internal/live"
	appsync "github.com/nhle/hrnotify/internal/sync"
	"github.com/nhle/hrnotify/internal/theme"
)

// statusLine describes the account, the live channel and the last refresh.
func (m Model) statusLine() string {
	if !m.svc.Session.Authenticated() {
		return "signed out"
	}

	var parts []string
	if account := m.svc.Session.Account(); account != "" {
		parts = append(parts, "emp "+account)
	}

	state := m.channel.String()
	if !m.svc.Channel.Enabled() {
		state = "off"
	} else if m.channel == live.StateBackoff {
		state = fmt.Sprintf("retry %d", m.svc.Channel.Attempts())
	}
	parts = append(parts, theme.ChannelStyle(m.channel.String()).Render("● "+state))

	st := m.svc.Poller.Status()
	switch st.State {
	case appsync.SyncRunning:
		parts = append(parts, "syncing")
	case appsync.SyncError:
		parts = append(parts, "⚠ unreachable")
	default:
		if !st.LastSync.IsZero() {
			parts = append(parts, "synced "+st.LastSync.Format("15:04"))
		}
	}
	return strings.Join(parts, " | ")
}

// keyHints returns keyboard shortcut hints or the current notice for the
// status bar.
func (m Model) keyHints() string {
	if m.notice != "" && (m.currentView == ViewList || m.currentView == ViewDetail) {
		if m.noticeIsErr {
			return theme.ErrorStyle.Render(m.notice)
		}
		return m.notice
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | tab complete | esc back"
	case ViewDetail:
		return "esc back | j/k scroll"
	case ViewDropdown:
		return "enter open | j/k move | esc close"
	case ViewSend, ViewLogin:
		return "enter submit | esc cancel"
	default:
		if !m.svc.Session.Authenticated() {
			return "L sign in | q quit | ? help"
		}
		return "q quit | ? help | tab filter | [ ] page | m read | A read all | n recent | s send"
	}
}
