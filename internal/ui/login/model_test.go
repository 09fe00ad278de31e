package login

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/hrnotify/internal/keys"
)

func TestValidateToken(t *testing.T) {
	assert.Error(t, validateToken(""))
	assert.Error(t, validateToken("Bearer "))
	assert.Error(t, validateToken("not-a-jwt"))
	assert.NoError(t, validateToken("aaa.bbb.ccc"))
	assert.NoError(t, validateToken("Bearer aaa.bbb.ccc"))
}

func TestModel_VerificationResult(t *testing.T) {
	verify := func(context.Context, string) (string, error) { return "", errors.New("rejected") }
	m := New(verify, keys.DefaultKeyMap(), 80, 20)
	m.Start()

	m, cmd := m.Update(verifiedMsg{err: errors.New("rejected")})
	assert.Nil(t, cmd)
	assert.Equal(t, ModeResult, m.Mode())
	assert.Contains(t, m.View(), "rejected")

	m, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, CancelMsg{}, cmd())

	_, cmd = m.Update(verifiedMsg{account: "42"})
	require.NotNil(t, cmd)
	assert.Equal(t, DoneMsg{Account: "42"}, cmd())
}
