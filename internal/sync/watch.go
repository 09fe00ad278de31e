package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/hrnotify/internal/model"
)

// ErrSessionEnded is returned by Watch when the backend rejected the
// session.
var ErrSessionEnded = errors.New("session ended")

// WatchEvent is one line of watch output.
type WatchEvent struct {
	Kind         string              `json:"kind"`
	At           time.Time           `json:"at"`
	Notification *model.Notification `json:"notification,omitempty"`
	Unread       *int                `json:"unread,omitempty"`
	State        string              `json:"state,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// Watch writes poller messages from results to w as JSON lines until ctx
// is done or the session ends.
func Watch(ctx context.Context, results <-chan tea.Msg, w io.Writer) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-results:
			if !ok {
				return nil
			}
			ev, emit := watchEvent(msg)
			if !emit {
				continue
			}
			ev.At = time.Now().UTC()
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("writing watch output: %w", err)
			}
			if msg, ok := msg.(RefreshResultMsg); ok && msg.AuthError != nil {
				return fmt.Errorf("%w: %s", ErrSessionEnded, msg.AuthError.Message)
			}
		}
	}
}

func watchEvent(msg tea.Msg) (WatchEvent, bool) {
	switch msg := msg.(type) {
	case NotificationArrivedMsg:
		n := msg.Notification
		return WatchEvent{Kind: "notification", Notification: &n}, true
	case UnreadCountMsg:
		c := msg.Count
		return WatchEvent{Kind: "unread-count", Unread: &c}, true
	case RefreshResultMsg:
		if msg.Error != nil {
			return WatchEvent{Kind: "refresh-error", Error: msg.Error.Error()}, true
		}
		c := msg.Dropdown.Unread
		return WatchEvent{Kind: "refresh", Unread: &c}, true
	case ChannelStateMsg:
		return WatchEvent{Kind: "channel", State: msg.State.String()}, true
	case ChannelErrorMsg:
		return WatchEvent{Kind: "channel-error", Error: msg.Err.Error()}, true
	default:
		return WatchEvent{}, false
	}
}
