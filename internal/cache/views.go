package cache

import (
	"context"

	"github.com/nhle/hrnotify/internal/model"
)

// Dropdown is the compact recent-items panel with its badge.
type Dropdown struct {
	Items  []model.Notification
	Unread int
	More   bool
}

// ListView is one screen of the full notification list.
type ListView struct {
	Filter        model.ListFilter
	Items         []model.Notification
	Page          int
	Size          int
	TotalPages    int
	TotalElements int
	TotalUnread   int
	// PartialPage is set for the read filter: it covers only the read
	// items of the currently loaded server page.
	PartialPage bool
}

// HasNext reports whether a later page exists.
func (v ListView) HasNext() bool { return v.Page+1 < v.TotalPages }

// HasPrev reports whether an earlier page exists.
func (v ListView) HasPrev() bool { return v.Page > 0 }

// Badge reads the unread-count region only.
func (r *Reconciler) Badge(ctx context.Context) (int, error) {
	return r.UnreadCount(ctx)
}

// Dropdown joins the first page of size items with the badge count.
func (r *Reconciler) Dropdown(ctx context.Context, size int) (Dropdown, error) {
	page, err := r.Page(ctx, 0, size)
	if err != nil {
		return Dropdown{}, err
	}
	count, err := r.UnreadCount(ctx)
	if err != nil {
		return Dropdown{}, err
	}
	return Dropdown{
		Items:  page.Notifications,
		Unread: count,
		More:   page.TotalElements > len(page.Notifications),
	}, nil
}

// List builds the full list view for filter. The all and read filters
// page through the server; unread shows the whole unread region.
func (r *Reconciler) List(ctx context.Context, filter model.ListFilter, page, size int) (ListView, error) {
	switch filter {
	case model.FilterUnread:
		items, err := r.Unread(ctx)
		if err != nil {
			return ListView{}, err
		}
		return ListView{
			Filter:        filter,
			Items:         items,
			Size:          len(items),
			TotalPages:    1,
			TotalElements: len(items),
			TotalUnread:   len(items),
		}, nil

	case model.FilterRead:
		p, err := r.Page(ctx, page, size)
		if err != nil {
			return ListView{}, err
		}
		read := FilterRead(p.Notifications)
		return ListView{
			Filter:        filter,
			Items:         read,
			Page:          p.CurrentPage,
			Size:          p.PageSize,
			TotalPages:    p.TotalPages,
			TotalElements: p.TotalElements,
			TotalUnread:   p.TotalUnread,
			PartialPage:   true,
		}, nil

	default:
		p, err := r.Page(ctx, page, size)
		if err != nil {
			return ListView{}, err
		}
		return ListView{
			Filter:        model.FilterAll,
			Items:         p.Notifications,
			Page:          p.CurrentPage,
			Size:          p.PageSize,
			TotalPages:    p.TotalPages,
			TotalElements: p.TotalElements,
			TotalUnread:   p.TotalUnread,
		}, nil
	}
}

// FilterRead keeps the read items of ns, in order.
func FilterRead(ns []model.Notification) []model.Notification {
	out := make([]model.Notification, 0, len(ns))
	for _, n := range ns {
		if n.Read {
			out = append(out, n)
		}
	}
	return out
}
