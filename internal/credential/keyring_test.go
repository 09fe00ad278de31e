package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVault(t *testing.T) {
	v := New(keyring.NewArrayKeyring(nil))

	_, err := v.Get("token")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, v.Set("token", "abc"))
	got, err := v.Get("token")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	require.NoError(t, v.Delete("token"))
	require.NoError(t, v.Delete("token"))

	_, err = v.Get("token")
	assert.ErrorIs(t, err, ErrNotFound)
}
