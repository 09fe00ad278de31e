package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Category tags a notification with a severity-like kind. The set is open:
// unknown values coming from the server are kept as-is.
type Category string

const (
	CategoryInfo    Category = "info"
	CategoryWarning Category = "warning"
	CategorySuccess Category = "success"
	CategoryError   Category = "error"
)

// Notification is one message delivered to an employee by the HR backend.
//
// Only Read ever changes after creation, and from the client's point of view
// it only moves from unread to read.
type Notification struct {
	// ID is assigned by the server and unique per notification.
	ID int64 `json:"notificationId"`

	// EmployeeID is the owning employee.
	EmployeeID int64 `json:"empId"`

	// Title is the short headline.
	Title string `json:"title"`

	// Message is the body text.
	Message string `json:"message"`

	// Category is nil when the server sent no type.
	Category *Category `json:"type"`

	// Read indicates whether the owner has seen this notification.
	Read bool `json:"isRead"`

	// CreatedAt is server-assigned and immutable.
	CreatedAt Timestamp `json:"createdAt"`
}

// CategoryLabel returns the category as a plain string, or "" when absent.
func (n Notification) CategoryLabel() string {
	if n.Category == nil {
		return ""
	}
	return string(*n.Category)
}

// NotificationPage is one server-side page of the "all notifications" list.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	TotalUnread   int            `json:"totalUnread"`
	TotalPages    int            `json:"totalPages"`
	TotalElements int            `json:"totalElements"`
	CurrentPage   int            `json:"currentPage"`
	PageSize      int            `json:"pageSize"`
}

// HasNext reports whether a page after this one exists.
func (p NotificationPage) HasNext() bool {
	return p.CurrentPage+1 < p.TotalPages
}

// SendRequest is the body of an administrative "notify another employee" call.
type SendRequest struct {
	EmployeeID int64     `json:"empId"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Category   *Category `json:"type,omitempty"`
}

// ListFilter selects which notifications the full list view shows.
type ListFilter string

const (
	FilterAll    ListFilter = "all"
	FilterUnread ListFilter = "unread"
	FilterRead   ListFilter = "read"
)

// ListFilters is the display order of the list view tabs.
var ListFilters = []ListFilter{FilterAll, FilterUnread, FilterRead}

// timestampLayouts are tried in order. Backends often serialize local
// date-times without a zone offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp is an ISO-8601 instant that tolerates a missing zone offset.
// Zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses s using the accepted ISO-8601 layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
