package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/hrnotify/internal/cache"
	"github.com/nhle/hrnotify/internal/hrms"
	"github.com/nhle/hrnotify/internal/hrms/hrmstest"
	"github.com/nhle/hrnotify/internal/model"
)

func newReconciler(t *testing.T) (*cache.Reconciler, *hrmstest.Server) {
	t.Helper()
	srv := hrmstest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddToken("alice", 7)

	client := hrms.NewClient(srv.URL, hrms.TokenFunc(func() string { return "alice" }))
	return cache.New(hrms.NewNotifications(client)), srv
}

func TestList_ReadFilterOnFetchedPage(t *testing.T) {
	r, srv := newReconciler(t)
	for i := 0; i < 5; i++ {
		srv.Add(7, "n", i == 1 || i == 3)
	}
	ctx := context.Background()

	all, err := r.List(ctx, model.FilterAll, 0, 20)
	require.NoError(t, err)
	assert.Len(t, all.Items, 5)
	assert.Equal(t, 3, all.TotalUnread)
	assert.Equal(t, 1, all.TotalPages)
	assert.Equal(t, 5, all.TotalElements)
	assert.False(t, all.PartialPage)

	read, err := r.List(ctx, model.FilterRead, 0, 20)
	require.NoError(t, err)
	assert.Len(t, read.Items, 2)
	assert.True(t, read.PartialPage)
	for _, n := range read.Items {
		assert.True(t, n.Read)
	}

	unread, err := r.List(ctx, model.FilterUnread, 0, 20)
	require.NoError(t, err)
	assert.Len(t, unread.Items, 3)

	// The read view reuses the cached all page.
	assert.Equal(t, 1, srv.Requests("GET /notifications"))
}

func TestFilterRead(t *testing.T) {
	ns := []model.Notification{{ID: 1, Read: true}, {ID: 2}, {ID: 3, Read: true}}
	got := cache.FilterRead(ns)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
	assert.Empty(t, cache.FilterRead(nil))
}

func TestMarkReadTwiceDecrementsOnce(t *testing.T) {
	r, srv := newReconciler(t)
	var target model.Notification
	for i := 0; i < 3; i++ {
		target = srv.Add(7, "n", false)
	}
	ctx := context.Background()

	before, err := r.Badge(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, before)

	require.NoError(t, r.MarkRead(ctx, target.ID))
	require.NoError(t, r.MarkRead(ctx, target.ID))

	after, err := r.Badge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, after)

	page, err := r.Page(ctx, 0, 20)
	require.NoError(t, err)
	for _, n := range page.Notifications {
		if n.ID == target.ID {
			assert.True(t, n.Read)
		}
	}
}

func TestMarkAllReadThenBadgeIsZero(t *testing.T) {
	r, srv := newReconciler(t)
	for i := 0; i < 4; i++ {
		srv.Add(7, "n", false)
	}
	ctx := context.Background()

	_, err := r.Dropdown(ctx, 5)
	require.NoError(t, err)

	require.NoError(t, r.MarkAllRead(ctx))

	n, err := r.Badge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDropdown(t *testing.T) {
	r, srv := newReconciler(t)
	for i := 0; i < 7; i++ {
		srv.Add(7, "n", i < 2)
	}

	d, err := r.Dropdown(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, d.Items, 5)
	assert.Equal(t, 5, d.Unread)
	assert.True(t, d.More)
	// Newest first.
	assert.Greater(t, d.Items[0].ID, d.Items[1].ID)
}

func TestPushedNotificationRefetchedAfterInvalidation(t *testing.T) {
	r, srv := newReconciler(t)
	srv.Add(7, "old", false)
	ctx := context.Background()

	page, err := r.Page(ctx, 0, 20)
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)

	n := srv.Add(7, "new", false)
	r.ApplyNotification(n)

	page, err = r.Page(ctx, 0, 20)
	require.NoError(t, err)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, n.ID, page.Notifications[0].ID)
}
