// Package live maintains the server-to-client push stream of notification
// events and its bounded reconnection policy.
package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nhle/hrnotify/internal/hrms"
	"github.com/nhle/hrnotify/internal/model"
)

// Server-sent event names.
const (
	EventConnected    = "connected"
	EventNotification = "notification"
	EventUnreadCount  = "unread-count"
)

// ErrUnknownEvent marks a pushed event whose name is not recognized.
var ErrUnknownEvent = errors.New("unknown event")

// RawEvent is one named frame as read off the transport.
type RawEvent struct {
	Name string
	Data []byte
}

// Event is a decoded push event: Connected, NewNotification,
// UnreadCountUpdate or Malformed.
type Event interface {
	eventName() string
}

// Connected acknowledges that the stream is established.
type Connected struct{}

// NewNotification carries a freshly created notification.
type NewNotification struct {
	Notification model.Notification
}

// UnreadCountUpdate carries the server's authoritative unread count.
type UnreadCountUpdate struct {
	Count int
}

// Malformed is an event that could not be decoded. It is logged and
// dropped; the stream stays open.
type Malformed struct {
	Name    string
	Payload string
	Err     error
}

func (Connected) eventName() string         { return EventConnected }
func (NewNotification) eventName() string   { return EventNotification }
func (UnreadCountUpdate) eventName() string { return EventUnreadCount }
func (m Malformed) eventName() string       { return m.Name }

// Decode turns a raw frame into an Event. It never fails; undecodable
// frames become Malformed.
func Decode(name string, data []byte) Event {
	switch name {
	case EventConnected:
		return Connected{}

	case EventNotification:
		var n model.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return malformed(name, data, err)
		}
		if n.ID == 0 {
			return malformed(name, data, errors.New("missing notificationId"))
		}
		return NewNotification{Notification: n}

	case EventUnreadCount:
		count, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return malformed(name, data, err)
		}
		if count < 0 {
			return malformed(name, data, fmt.Errorf("negative count %d", count))
		}
		return UnreadCountUpdate{Count: count}

	default:
		return Malformed{Name: name, Payload: string(data), Err: ErrUnknownEvent}
	}
}

func malformed(name string, data []byte, err error) Malformed {
	return Malformed{
		Name:    name,
		Payload: string(data),
		Err: &hrms.DeserializationError{
			Source:  name + " event",
			Payload: string(data),
			Err:     err,
		},
	}
}
