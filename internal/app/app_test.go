package app

import (
	"fmt"
	"testing"
	"time"

	"github.com/99designs/keyring"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/hrnotify/internal/cache"
	"github.com/nhle/hrnotify/internal/credential"
	"github.com/nhle/hrnotify/internal/hrms"
	"github.com/nhle/hrnotify/internal/hrms/hrmstest"
	"github.com/nhle/hrnotify/internal/live"
	"github.com/nhle/hrnotify/internal/model"
	"github.com/nhle/hrnotify/internal/session"
	appsync "github.com/nhle/hrnotify/internal/sync"
	"github.com/nhle/hrnotify/internal/ui/command"
	"github.com/nhle/hrnotify/internal/ui/notiflist"
)

func token(t *testing.T, empID int64) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"empId": empID,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func newTestApp(t *testing.T) (Model, *hrmstest.Server) {
	t.Helper()
	srv := hrmstest.NewServer()
	t.Cleanup(srv.Close)

	tok := token(t, 7)
	srv.AddToken(tok, 7)

	logger := zaptest.NewLogger(t)
	sess := session.New(credential.New(keyring.NewArrayKeyring(nil)), session.WithLogger(logger))
	_, err := sess.Login(tok)
	require.NoError(t, err)

	client := hrms.NewClient(srv.URL, sess)
	notifications := hrms.NewNotifications(client)
	reconciler := cache.New(notifications, cache.WithLogger(logger))
	poller := appsync.New(reconciler, sess, appsync.WithInterval(time.Hour))
	channel := live.NewChannel(
		live.Config{StreamURL: srv.URL + "/notifications/stream"},
		sess,
		live.NewSSETransport(client.HTTPClient(), logger),
		poller.LiveHandlers(),
	)
	t.Cleanup(channel.Close)

	sess.OnInvalidate(func(error) {
		channel.Deactivate()
		reconciler.Reset()
	})

	m := New(Services{
		Session:       sess,
		Notifications: notifications,
		Reconciler:    reconciler,
		Poller:        poller,
		Channel:       channel,
		Logger:        logger,
		PageSize:      10,
		DropdownSize:  3,
	})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model), srv
}

func result(t *testing.T, cmd tea.Cmd) actionResultMsg {
	t.Helper()
	require.NotNil(t, cmd)
	msg, ok := cmd().(actionResultMsg)
	require.True(t, ok)
	return msg
}

func TestOpenDetailMarksRead(t *testing.T) {
	m, srv := newTestApp(t)
	n := srv.Add(7, "Leave approved", false)

	cmd := m.openDetail(n)
	assert.Equal(t, ViewDetail, m.currentView)
	require.NotNil(t, m.detail.Notification())
	assert.True(t, m.detail.Notification().Read)

	res := result(t, cmd)
	require.NoError(t, res.err)

	got, ok := srv.Notification(n.ID)
	require.True(t, ok)
	assert.True(t, got.Read)
	assert.True(t, m.svc.Reconciler.Confirmed(n.ID))
}

func TestOpenDetailAlreadyRead(t *testing.T) {
	m, srv := newTestApp(t)
	n := srv.Add(7, "Old news", true)

	assert.Nil(t, m.openDetail(n))
	assert.Equal(t, 0, srv.Requests(fmt.Sprintf("PUT /notifications/%d/read", n.ID)))
}

func TestMarkAllRead(t *testing.T) {
	m, srv := newTestApp(t)
	srv.Add(7, "a", false)
	srv.Add(7, "b", false)

	res := result(t, m.markAllRead())
	require.NoError(t, res.err)
	assert.Equal(t, "All notifications marked as read", res.success)

	count, err := m.svc.Reconciler.UnreadCount(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSendCommand(t *testing.T) {
	m, _ := newTestApp(t)

	res := result(t, m.send(model.SendRequest{EmployeeID: 9, Title: "Hi", Message: "there"}))
	require.NoError(t, res.err)
	assert.Contains(t, res.success, "employee 9")
}

func TestLiveCommand(t *testing.T) {
	m, _ := newTestApp(t)

	m.executeCommand(command.CommandMsg{Name: command.Live, Args: []string{"off"}})
	assert.False(t, m.svc.Channel.Enabled())
	assert.Contains(t, m.statusLine(), "off")

	m.executeCommand(command.CommandMsg{Name: command.Live, Args: []string{"maybe"}})
	assert.True(t, m.noticeIsErr)

	cmd := m.executeCommand(command.CommandMsg{Name: command.Live, Args: []string{"on"}})
	assert.True(t, m.svc.Channel.Enabled())
	require.NotNil(t, cmd)
	cmd()
	assert.True(t, m.svc.Channel.State().Active())
}

func TestLogoutResetsState(t *testing.T) {
	m, srv := newTestApp(t)
	srv.Add(7, "a", false)
	_, err := m.svc.Reconciler.UnreadCount(t.Context())
	require.NoError(t, err)

	res := result(t, m.executeCommand(command.CommandMsg{Name: command.Logout}))
	require.NoError(t, res.err)

	assert.False(t, m.svc.Session.Authenticated())
	_, cached := m.svc.Reconciler.CachedUnreadCount()
	assert.False(t, cached, "cache cleared on logout")
	assert.Equal(t, live.StateIdle, m.svc.Channel.State())
	assert.Equal(t, "signed out", m.statusLine())
}

func TestVerifyTokenRejected(t *testing.T) {
	m, _ := newTestApp(t)

	_, err := m.verifyToken(t.Context(), token(t, 99))
	require.Error(t, err)
	assert.True(t, hrms.IsAuthError(err))
	assert.False(t, m.svc.Session.Authenticated(), "unknown token leaves the session signed out")
}

func TestUnknownCommand(t *testing.T) {
	m, _ := newTestApp(t)
	assert.Nil(t, m.executeCommand(command.CommandMsg{Name: "dance"}))
	assert.Contains(t, m.notice, "dance")
}

func TestActionFailureInvalidatesSession(t *testing.T) {
	m, _ := newTestApp(t)

	next, _ := m.Update(actionResultMsg{failure: "Send failed", err: &hrms.AuthError{Message: "token expired"}})
	m = next.(Model)
	assert.False(t, m.svc.Session.Authenticated())
	assert.Contains(t, m.keyHints(), "Send failed")
}

// find runs cmd, descending into batches, and returns the first message
// of type T.
func find[T tea.Msg](t *testing.T, cmd tea.Cmd) (T, bool) {
	t.Helper()
	var zero T
	if cmd == nil {
		return zero, false
	}
	switch msg := cmd().(type) {
	case T:
		return msg, true
	case tea.BatchMsg:
		for _, c := range msg {
			if got, ok := find[T](t, c); ok {
				return got, true
			}
		}
	}
	return zero, false
}

func TestFirstResizeLoadsList(t *testing.T) {
	base, srv := newTestApp(t)
	srv.Add(7, "a", false)
	srv.Add(7, "b", true)

	next, cmd := New(base.svc).Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m := next.(Model)

	loaded, ok := find[notiflist.LoadedMsg](t, cmd)
	require.True(t, ok, "first resize starts the list load")
	require.NoError(t, loaded.Err)

	next, _ = m.Update(loaded)
	m = next.(Model)
	assert.Len(t, m.list.Items(), 2)
	assert.False(t, m.list.Loading())
}

func TestSignInAsOtherAccountDropsCache(t *testing.T) {
	m, srv := newTestApp(t)
	n := srv.Add(7, "mine", false)
	require.NoError(t, m.svc.Reconciler.MarkRead(t.Context(), n.ID))
	_, err := m.svc.Reconciler.UnreadCount(t.Context())
	require.NoError(t, err)
	require.True(t, m.svc.Reconciler.Confirmed(n.ID))

	other := token(t, 8)
	srv.AddToken(other, 8)

	account, err := m.verifyToken(t.Context(), other)
	require.NoError(t, err)
	assert.Equal(t, "8", account)

	_, cached := m.svc.Reconciler.CachedUnreadCount()
	assert.False(t, cached, "previous account's count is gone")
	assert.False(t, m.svc.Reconciler.Confirmed(n.ID), "previous account's reads are gone")
}
