package hrms_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/hrnotify/internal/hrms"
	"github.com/nhle/hrnotify/internal/hrms/hrmstest"
	"github.com/nhle/hrnotify/internal/model"
)

const (
	aliceToken = "alice-token"
	aliceID    = int64(7)
	bobToken   = "bob-token"
	bobID      = int64(9)
)

func newBackend(t *testing.T) *hrmstest.Server {
	t.Helper()
	srv := hrmstest.NewServer()
	srv.AddToken(aliceToken, aliceID)
	srv.AddToken(bobToken, bobID)
	t.Cleanup(srv.Close)
	return srv
}

func newNotifications(srv *hrmstest.Server, token string) *hrms.Notifications {
	c := hrms.NewClient(srv.URL, hrms.TokenFunc(func() string { return token }), hrms.WithTimeout(5*time.Second))
	return hrms.NewNotifications(c)
}

func TestFetchPage_FiveItemsTwoRead(t *testing.T) {
	srv := newBackend(t)
	for i := 0; i < 5; i++ {
		srv.Add(aliceID, "item", i < 2)
	}
	api := newNotifications(srv, aliceToken)

	page, err := api.FetchPage(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Len(t, page.Notifications, 5)
	assert.Equal(t, 3, page.TotalUnread)
	assert.Equal(t, 5, page.TotalElements)
	assert.Equal(t, 1, page.TotalPages)
	assert.False(t, page.HasNext())

	count, err := api.FetchUnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	unread, err := api.FetchUnread(context.Background())
	require.NoError(t, err)
	assert.Len(t, unread, 3)
	for _, n := range unread {
		assert.False(t, n.Read)
	}
}

func TestFetchPage_Paging(t *testing.T) {
	srv := newBackend(t)
	for i := 0; i < 5; i++ {
		srv.Add(aliceID, "item", false)
	}
	api := newNotifications(srv, aliceToken)

	page, err := api.FetchPage(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Notifications, 2)
	assert.Equal(t, 1, page.CurrentPage)
	assert.Equal(t, 3, page.TotalPages)
	assert.True(t, page.HasNext())

	empty, err := api.FetchPage(context.Background(), 9, 2)
	require.NoError(t, err)
	assert.NotNil(t, empty.Notifications)
	assert.Empty(t, empty.Notifications)
}

func TestMarkAllRead_ThenCountIsZero(t *testing.T) {
	srv := newBackend(t)
	for i := 0; i < 3; i++ {
		srv.Add(aliceID, "item", false)
	}
	api := newNotifications(srv, aliceToken)

	require.NoError(t, api.MarkAllRead(context.Background()))

	count, err := api.FetchUnreadCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMarkRead_Idempotent(t *testing.T) {
	srv := newBackend(t)
	n := srv.Add(aliceID, "item", false)
	api := newNotifications(srv, aliceToken)

	require.NoError(t, api.MarkRead(context.Background(), n.ID))
	require.NoError(t, api.MarkRead(context.Background(), n.ID))

	stored, ok := srv.Notification(n.ID)
	require.True(t, ok)
	assert.True(t, stored.Read)
}

func TestMarkRead_NotOwned(t *testing.T) {
	srv := newBackend(t)
	n := srv.Add(bobID, "for bob", false)
	api := newNotifications(srv, aliceToken)

	err := api.MarkRead(context.Background(), n.ID)
	require.Error(t, err)
	assert.True(t, hrms.IsNotFoundError(err))

	stored, _ := srv.Notification(n.ID)
	assert.False(t, stored.Read)
}

func TestMarkRead_ForbiddenIsNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	api := hrms.NewNotifications(hrms.NewClient(ts.URL, hrms.TokenFunc(func() string { return "t" })))
	err := api.MarkRead(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, hrms.IsNotFoundError(err))
}

func TestSend_DeliversToRecipient(t *testing.T) {
	srv := newBackend(t)
	api := newNotifications(srv, aliceToken)

	warning := model.CategoryWarning
	err := api.Send(context.Background(), model.SendRequest{
		EmployeeID: bobID,
		Title:      "  Payroll  ",
		Message:    "Submit your timesheet",
		Category:   &warning,
	})
	require.NoError(t, err)

	page, err := newNotifications(srv, bobToken).FetchPage(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, "Payroll", page.Notifications[0].Title)
	require.NotNil(t, page.Notifications[0].Category)
	assert.Equal(t, model.CategoryWarning, *page.Notifications[0].Category)
}

func TestSend_ValidationIsLocal(t *testing.T) {
	srv := newBackend(t)
	api := newNotifications(srv, aliceToken)

	tests := []struct {
		name  string
		req   model.SendRequest
		field string
	}{
		{"empty title", model.SendRequest{EmployeeID: bobID, Title: "  ", Message: "m"}, "title"},
		{"empty message", model.SendRequest{EmployeeID: bobID, Title: "t"}, "message"},
		{"missing recipient", model.SendRequest{Title: "t", Message: "m"}, "empId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := api.Send(context.Background(), tt.req)
			require.Error(t, err)
			var ve *hrms.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assert.Zero(t, srv.Requests("POST /notifications"))
}

func TestUnknownTokenIsAuthError(t *testing.T) {
	srv := newBackend(t)
	api := newNotifications(srv, "stale")

	_, err := api.FetchUnreadCount(context.Background())
	require.Error(t, err)
	assert.True(t, hrms.IsAuthError(err))
	assert.False(t, hrms.IsNetworkError(err))
}

func TestServerErrorIsNetworkError(t *testing.T) {
	srv := newBackend(t)
	srv.FailNext("GET /notifications/unread-count", 1)
	api := newNotifications(srv, aliceToken)

	_, err := api.FetchUnreadCount(context.Background())
	require.Error(t, err)
	var ne *hrms.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, http.StatusServiceUnavailable, ne.StatusCode)

	// Not retried by the client.
	assert.Equal(t, 1, srv.Requests("GET /notifications/unread-count"))

	_, err = api.FetchUnreadCount(context.Background())
	assert.NoError(t, err)
}
