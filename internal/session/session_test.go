package session

import (
	"errors"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/hrnotify/internal/credential"
	"github.com/nhle/hrnotify/internal/hrms"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func newManager() (*Manager, *credential.Vault) {
	vault := credential.New(keyring.NewArrayKeyring(nil))
	return New(vault, WithNow(func() time.Time { return now })), vault
}

func TestLogin(t *testing.T) {
	m, vault := newManager()
	token := sign(t, jwt.MapClaims{"empId": 42, "sub": "alice", "exp": now.Add(time.Hour).Unix()})

	claims, err := m.Login("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.EmployeeID)
	assert.Equal(t, "alice", claims.Subject)

	assert.True(t, m.Authenticated())
	assert.Equal(t, token, m.Token())
	assert.Equal(t, "42", m.Account())

	saved, err := vault.Get(tokenKey)
	require.NoError(t, err)
	assert.Equal(t, token, saved)
}

func TestLoginRejects(t *testing.T) {
	m, _ := newManager()

	_, err := m.Login("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Login(sign(t, jwt.MapClaims{"empId": 1, "exp": now.Add(-time.Minute).Unix()}))
	assert.ErrorIs(t, err, ErrExpired)

	assert.False(t, m.Authenticated())
}

func TestNumericSubjectIsEmployee(t *testing.T) {
	m, _ := newManager()
	claims, err := m.Login(sign(t, jwt.MapClaims{"sub": "17"}))
	require.NoError(t, err)
	assert.Equal(t, int64(17), claims.EmployeeID)
	assert.True(t, claims.ExpiresAt.IsZero())
}

func TestTokenExpiresInPlace(t *testing.T) {
	clock := now
	vault := credential.New(keyring.NewArrayKeyring(nil))
	m := New(vault, WithNow(func() time.Time { return clock }))

	_, err := m.Login(sign(t, jwt.MapClaims{"empId": 1, "exp": now.Add(time.Minute).Unix()}))
	require.NoError(t, err)
	assert.True(t, m.Authenticated())

	clock = clock.Add(2 * time.Minute)
	assert.False(t, m.Authenticated())
	assert.Empty(t, m.Token())
}

func TestRestore(t *testing.T) {
	m, vault := newManager()

	ok, err := m.Restore()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, vault.Set(tokenKey, sign(t, jwt.MapClaims{"empId": 5, "exp": now.Add(time.Hour).Unix()})))
	ok, err = m.Restore()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), m.EmployeeID())

	other, vault2 := newManager()
	require.NoError(t, vault2.Set(tokenKey, sign(t, jwt.MapClaims{"empId": 5, "exp": now.Add(-time.Hour).Unix()})))
	ok, err = other.Restore()
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = vault2.Get(tokenKey)
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestInvalidationHooks(t *testing.T) {
	m, vault := newManager()
	var reasons []error
	m.OnInvalidate(func(reason error) { reasons = append(reasons, reason) })

	_, err := m.Login(sign(t, jwt.MapClaims{"empId": 3}))
	require.NoError(t, err)

	authErr := &hrms.AuthError{Message: "expired"}
	got := m.Check(authErr)
	assert.Same(t, authErr, got)
	assert.False(t, m.Authenticated())

	// Already signed out: no second notification.
	m.Check(authErr)
	require.NoError(t, m.Logout())

	require.Len(t, reasons, 1)
	assert.True(t, hrms.IsAuthError(reasons[0]))
	_, err = vault.Get(tokenKey)
	assert.ErrorIs(t, err, credential.ErrNotFound)

	_, err = m.Login(sign(t, jwt.MapClaims{"empId": 3}))
	require.NoError(t, err)
	require.NoError(t, m.Logout())
	require.Len(t, reasons, 2)
	assert.ErrorIs(t, reasons[1], ErrLoggedOut)
}

func TestCheckIgnoresOtherErrors(t *testing.T) {
	m, _ := newManager()
	_, err := m.Login(sign(t, jwt.MapClaims{"empId": 3}))
	require.NoError(t, err)

	m.Check(errors.New("boom"))
	m.Check(&hrms.NetworkError{Op: "GET", Err: errors.New("reset")})
	m.Check(nil)
	assert.True(t, m.Authenticated())
}

func TestCheckEndsLocallyExpiredSession(t *testing.T) {
	clock := now
	vault := credential.New(keyring.NewArrayKeyring(nil))
	m := New(vault, WithNow(func() time.Time { return clock }))
	var reasons []error
	m.OnInvalidate(func(reason error) { reasons = append(reasons, reason) })

	_, err := m.Login(sign(t, jwt.MapClaims{"empId": 1, "exp": now.Add(time.Minute).Unix()}))
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	assert.True(t, m.Expired())
	assert.True(t, m.Held())

	m.Check(&hrms.AuthError{Message: "token expired"})
	require.Len(t, reasons, 1, "a 401 after local expiry still clears collaborators")
	assert.False(t, m.Held())
	assert.False(t, m.Expired())
	_, err = vault.Get(tokenKey)
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestLoginEndsPreviousSession(t *testing.T) {
	clock := now
	vault := credential.New(keyring.NewArrayKeyring(nil))
	m := New(vault, WithNow(func() time.Time { return clock }))
	var reasons []error
	m.OnInvalidate(func(reason error) { reasons = append(reasons, reason) })

	_, err := m.Login(sign(t, jwt.MapClaims{"empId": 42, "exp": now.Add(time.Minute).Unix()}))
	require.NoError(t, err)
	assert.Empty(t, reasons)

	// A malformed token keeps the current session.
	_, err = m.Login("garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.Empty(t, reasons)
	assert.Equal(t, "42", m.Account())

	clock = clock.Add(2 * time.Minute)
	_, err = m.Login(sign(t, jwt.MapClaims{"empId": 7, "exp": clock.Add(time.Hour).Unix()}))
	require.NoError(t, err)

	require.Len(t, reasons, 1, "switching accounts ends the expired one")
	assert.ErrorIs(t, reasons[0], ErrLoggedOut)
	assert.Equal(t, "7", m.Account())
	assert.True(t, m.Authenticated())

	saved, err := vault.Get(tokenKey)
	require.NoError(t, err)
	assert.Equal(t, m.Token(), saved)
}
