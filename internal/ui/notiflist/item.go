package notiflist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/hrnotify/internal/model"
	"github.com/nhle/hrnotify/internal/theme"
)

// Item wraps a notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.Title }

// Title returns the notification title.
func (i Item) Title() string { return i.Notification.Title }

// Description returns a short summary line.
func (i Item) Description() string {
	parts := []string{
		i.Notification.CategoryLabel(),
		RelativeTime(i.Notification.CreatedAt.Time, time.Now()),
	}
	return strings.Join(parts, " | ")
}

// Delegate implements list.ItemDelegate with one line per notification.
type Delegate struct{}

// Height returns the number of lines each item takes.
func (d Delegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d Delegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d Delegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification line.
func (d Delegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	fmt.Fprint(w, RenderLine(it.Notification, index == m.Index(), time.Now()))
}

// RenderLine draws a notification as one list line. Unread items carry a
// marker; read ones are dimmed.
func RenderLine(n model.Notification, selected bool, now time.Time) string {
	marker := " "
	if !n.Read {
		marker = theme.UnreadMarkerStyle.Render("●")
	}

	category := ""
	if label := n.CategoryLabel(); label != "" {
		category = theme.CategoryStyle(label).Render(strings.ToUpper(label[:min(4, len(label))])) + " "
	}

	when := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(RelativeTime(n.CreatedAt.Time, now))

	body := fmt.Sprintf("%s%s  %s", category, n.Title, when)
	if n.Read {
		body = theme.DimmedStyle.Render(body)
	}
	line := marker + " " + body

	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// RelativeTime returns a human-friendly relative time string.
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Local().Format("Jan 02")
	}
}
