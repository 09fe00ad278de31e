package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/hrnotify/internal/cache"
	"github.com/nhle/hrnotify/internal/live"
	"github.com/nhle/hrnotify/internal/model"
)

func decodeLines(t *testing.T, out string) []WatchEvent {
	t.Helper()
	var events []WatchEvent
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var ev WatchEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev)
	}
	return events
}

func TestWatch_WritesEventsUntilClosed(t *testing.T) {
	results := make(chan tea.Msg, 8)
	results <- ChannelStateMsg{State: live.StateConnected}
	results <- NotificationArrivedMsg{Notification: model.Notification{ID: 9, Title: "Payslip"}}
	results <- UnreadCountMsg{Count: 3}
	results <- RegionsChangedMsg{Regions: cache.AllRegions}
	results <- RefreshResultMsg{Dropdown: cache.Dropdown{Unread: 3}}
	close(results)

	var buf bytes.Buffer
	require.NoError(t, Watch(t.Context(), results, &buf))

	events := decodeLines(t, buf.String())
	require.Len(t, events, 4, "region changes are not printed")

	assert.Equal(t, "channel", events[0].Kind)
	assert.Equal(t, "connected", events[0].State)

	assert.Equal(t, "notification", events[1].Kind)
	require.NotNil(t, events[1].Notification)
	assert.Equal(t, int64(9), events[1].Notification.ID)

	assert.Equal(t, "unread-count", events[2].Kind)
	require.NotNil(t, events[2].Unread)
	assert.Equal(t, 3, *events[2].Unread)

	assert.Equal(t, "refresh", events[3].Kind)
	assert.False(t, events[3].At.IsZero())
}

func TestWatch_StopsOnAuthError(t *testing.T) {
	results := make(chan tea.Msg, 2)
	results <- RefreshResultMsg{
		Error:     errors.New("401"),
		AuthError: &AuthErrorMsg{Message: "Session expired."},
	}

	var buf bytes.Buffer
	err := Watch(t.Context(), results, &buf)
	require.ErrorIs(t, err, ErrSessionEnded)

	events := decodeLines(t, buf.String())
	require.Len(t, events, 1)
	assert.Equal(t, "refresh-error", events[0].Kind)
}

func TestWatch_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var buf bytes.Buffer
	assert.NoError(t, Watch(ctx, make(chan tea.Msg), &buf))
	assert.Empty(t, buf.String())
}
