package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKeyring(t *testing.T) {
	k := NewMemory()

	_, err := k.Get(TokenKey("acc1"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, k.Set(TokenKey("acc1"), "jwt"))
	require.NoError(t, k.Set(PasswordKey("acc1"), "secret"))

	tok, err := k.Get(TokenKey("acc1"))
	require.NoError(t, err)
	assert.Equal(t, "jwt", tok)

	require.NoError(t, k.Delete(TokenKey("acc1")))
	require.NoError(t, k.Delete(TokenKey("acc1")))
	_, err = k.Get(TokenKey("acc1"))
	assert.ErrorIs(t, err, ErrNotFound)

	pw, err := k.Get(PasswordKey("acc1"))
	require.NoError(t, err)
	assert.Equal(t, "secret", pw)
}

func TestKeysAreNamespaced(t *testing.T) {
	assert.NotEqual(t, TokenKey("a"), PasswordKey("a"))
	assert.Equal(t, "token:a", TokenKey("a"))
}
