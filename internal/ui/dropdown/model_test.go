package dropdown

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/hrnotify/internal/cache"
	"github.com/nhle/hrnotify/internal/keys"
	"github.com/nhle/hrnotify/internal/model"
)

type fakeReader struct {
	d    cache.Dropdown
	size int
}

func (f *fakeReader) Dropdown(_ context.Context, size int) (cache.Dropdown, error) {
	f.size = size
	return f.d, nil
}

func press(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_LoadAndNavigate(t *testing.T) {
	r := &fakeReader{d: cache.Dropdown{
		Items:  []model.Notification{{ID: 2, Title: "Second"}, {ID: 1, Title: "First", Read: true}},
		Unread: 1,
		More:   true,
	}}
	m := New(r, keys.DefaultKeyMap(), 5, 100)

	m, _ = m.Update(m.Load()())
	assert.Equal(t, 5, r.size)
	unread, ok := m.Unread()
	assert.True(t, ok)
	assert.Equal(t, 1, unread)
	assert.Contains(t, m.View(), "(1 unread)")
	assert.Contains(t, m.View(), "Second")

	_, cmd := m.Update(press("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, OpenMsg{Notification: r.d.Items[0]}, cmd())

	m, _ = m.Update(press("j"))
	m, _ = m.Update(press("j"))
	m, _ = m.Update(press("j"))
	_, cmd = m.Update(press("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, ViewAllMsg{}, cmd(), "cursor stops on the view-all row")

	_, cmd = m.Update(press("esc"))
	require.NotNil(t, cmd)
	assert.Equal(t, CloseMsg{}, cmd())
}

func TestModel_EmptyPanel(t *testing.T) {
	m := New(&fakeReader{}, keys.DefaultKeyMap(), 5, 100)
	assert.Contains(t, m.View(), "Loading...")

	m.Set(cache.Dropdown{})
	assert.Contains(t, m.View(), "No notifications yet.")

	_, cmd := m.Update(press("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, ViewAllMsg{}, cmd())
}
