package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$v=19$")

	require.NoError(t, VerifyPassword("hunter22", hash))
	require.ErrorIs(t, VerifyPassword("hunter23", hash), ErrPasswordMismatch)
}

func TestHashIsSalted(t *testing.T) {
	a, err := HashPassword("same-password")
	require.NoError(t, err)
	b, err := HashPassword("same-password")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyPasswordRejectsBadFormat(t *testing.T) {
	require.Error(t, VerifyPassword("pw", "not-a-hash"))
	require.Error(t, VerifyPassword("pw", "$bcrypt$whatever"))
}

func TestPepperChangesHash(t *testing.T) {
	// Not parallel: mutates process-wide pepper state.
	t.Cleanup(func() { SetPepper("") })

	hash, err := HashPassword("secret")
	require.NoError(t, err)

	SetPepper("extra-spice")
	require.ErrorIs(t, VerifyPassword("secret", hash), ErrPasswordMismatch)

	SetPepper("")
	require.NoError(t, VerifyPassword("secret", hash))
}
