package hrms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nhle/hrnotify/internal/model"
)

// Notifications binds the notification endpoints of the HR backend.
// It holds no state beyond the client it wraps.
type Notifications struct {
	client *Client
}

// NewNotifications creates the notification bindings on top of c.
func NewNotifications(c *Client) *Notifications {
	return &Notifications{client: c}
}

// FetchPage retrieves one page of all notifications. Pages are zero-based.
func (n *Notifications) FetchPage(ctx context.Context, page, size int) (*model.NotificationPage, error) {
	if page < 0 {
		page = 0
	}
	if size < 1 {
		size = 20
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var result model.NotificationPage
	if err := n.client.Get(ctx, "/notifications?"+q.Encode(), &result); err != nil {
		return nil, fmt.Errorf("fetching notification page %d: %w", page, err)
	}
	if result.Notifications == nil {
		result.Notifications = []model.Notification{}
	}
	return &result, nil
}

// FetchUnread retrieves every unread notification.
func (n *Notifications) FetchUnread(ctx context.Context) ([]model.Notification, error) {
	var result []model.Notification
	if err := n.client.Get(ctx, "/notifications/unread", &result); err != nil {
		return nil, fmt.Errorf("fetching unread notifications: %w", err)
	}
	if result == nil {
		result = []model.Notification{}
	}
	return result, nil
}

// FetchUnreadCount retrieves the server's unread count.
func (n *Notifications) FetchUnreadCount(ctx context.Context) (int, error) {
	var count int
	if err := n.client.Get(ctx, "/notifications/unread-count", &count); err != nil {
		return 0, fmt.Errorf("fetching unread count: %w", err)
	}
	return count, nil
}

// MarkRead marks one notification read. Marking an already-read
// notification succeeds. A 403 is reported as NotFoundError since the
// notification is not the caller's.
func (n *Notifications) MarkRead(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/notifications/%d/read", id)
	err := n.client.Put(ctx, path, nil, nil)
	if err == nil {
		return nil
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		nf.NotificationID = id
		return fmt.Errorf("marking notification %d read: %w", id, nf)
	}
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
		return fmt.Errorf("marking notification %d read: %w", id, &NotFoundError{
			NotificationID: id,
			Message:        "not owned by the current user",
		})
	}
	return fmt.Errorf("marking notification %d read: %w", id, err)
}

// MarkAllRead marks every notification of the caller read.
func (n *Notifications) MarkAllRead(ctx context.Context) error {
	if err := n.client.Put(ctx, "/notifications/read-all", nil, nil); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// Send creates a notification for another employee.
func (n *Notifications) Send(ctx context.Context, req model.SendRequest) error {
	if err := ValidateSend(req); err != nil {
		return err
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)

	if err := n.client.Post(ctx, "/notifications", req, nil); err != nil {
		return fmt.Errorf("sending notification to employee %d: %w", req.EmployeeID, err)
	}
	return nil
}

// ValidateSend checks a send request before it goes on the wire.
func ValidateSend(req model.SendRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return &ValidationError{Field: "title", Message: "must not be empty"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return &ValidationError{Field: "message", Message: "must not be empty"}
	}
	if req.EmployeeID <= 0 {
		return &ValidationError{Field: "empId", Message: "must be a positive employee id"}
	}
	return nil
}
