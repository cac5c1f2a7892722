package jwtx

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestHS256RoundTrip(t *testing.T) {
	t.Parallel()

	signer, err := NewSignerHS256("k1", testSecret)
	require.NoError(t, err)
	require.NoError(t, signer.Validate())

	claims := NewSessionClaims(KindAccess, "user-1", "sess-1", false, time.Hour, "latchkey", time.Now())
	tok, err := signer.Sign(claims)
	require.NoError(t, err)

	verifier := NewVerifierHS256(testSecret)
	got, err := verifier.Verify(tok, VerifyOptions{Issuer: "latchkey", Kind: KindAccess})
	require.NoError(t, err)
	require.Equal(t, "user-1", got.Subject)
	require.Equal(t, "sess-1", got.SID)
	require.Equal(t, KindAccess, got.Kind)
	require.False(t, got.Impersonated)
	require.NotEmpty(t, got.ID)
}

func TestHS256RejectsShortSecret(t *testing.T) {
	t.Parallel()

	_, err := NewSignerHS256("k1", []byte("too short"))
	require.Error(t, err)
}

func TestHS256WrongSecret(t *testing.T) {
	t.Parallel()

	signer, err := NewSignerHS256("k1", testSecret)
	require.NoError(t, err)

	tok, err := signer.Sign(NewSessionClaims(KindAccess, "u", "s", false, time.Hour, "", time.Now()))
	require.NoError(t, err)

	other := NewVerifierHS256([]byte("fedcba9876543210fedcba9876543210"))
	_, err = other.Verify(tok, VerifyOptions{})
	require.ErrorIs(t, err, ErrInvalidSig)
}

func TestHS256Malformed(t *testing.T) {
	t.Parallel()

	verifier := NewVerifierHS256(testSecret)

	t.Run("garbage", func(t *testing.T) {
		_, err := verifier.Verify("not-a-jwt", VerifyOptions{})
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("truncated", func(t *testing.T) {
		signer, err := NewSignerHS256("k1", testSecret)
		require.NoError(t, err)
		tok, err := signer.Sign(NewSessionClaims(KindAccess, "u", "s", false, time.Hour, "", time.Now()))
		require.NoError(t, err)

		parts := strings.Split(tok, ".")
		_, err = verifier.Verify(parts[0]+"."+parts[1], VerifyOptions{})
		require.Error(t, err)
	})
}

func TestHS256Expiry(t *testing.T) {
	t.Parallel()

	signer, err := NewSignerHS256("k1", testSecret)
	require.NoError(t, err)
	verifier := NewVerifierHS256(testSecret)

	expired, err := signer.Sign(NewSessionClaims(KindAccess, "u", "s", false, -time.Minute, "", time.Now()))
	require.NoError(t, err)

	t.Run("expired token rejected", func(t *testing.T) {
		_, err := verifier.Verify(expired, VerifyOptions{})
		require.ErrorIs(t, err, ErrExpired)
	})

	t.Run("ignore expiry still returns claims", func(t *testing.T) {
		got, err := verifier.Verify(expired, VerifyOptions{IgnoreExpiry: true})
		require.NoError(t, err)
		require.Equal(t, "s", got.SID)
	})

	t.Run("leeway tolerates small skew", func(t *testing.T) {
		got, err := verifier.Verify(expired, VerifyOptions{Leeway: 2 * time.Minute})
		require.NoError(t, err)
		require.Equal(t, "s", got.SID)
	})
}

func TestHS256ClaimChecks(t *testing.T) {
	t.Parallel()

	signer, err := NewSignerHS256("k1", testSecret)
	require.NoError(t, err)
	verifier := NewVerifierHS256(testSecret)

	tok, err := signer.Sign(NewSessionClaims(KindRefresh, "u", "s", true, time.Hour, "latchkey", time.Now()))
	require.NoError(t, err)

	t.Run("kind mismatch", func(t *testing.T) {
		_, err := verifier.Verify(tok, VerifyOptions{Kind: KindAccess})
		require.ErrorIs(t, err, ErrInvalidClaim)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		_, err := verifier.Verify(tok, VerifyOptions{Issuer: "someone-else"})
		require.ErrorIs(t, err, ErrIssuer)
	})

	t.Run("impersonation flag survives", func(t *testing.T) {
		got, err := verifier.Verify(tok, VerifyOptions{Issuer: "latchkey", Kind: KindRefresh})
		require.NoError(t, err)
		require.True(t, got.Impersonated)
	})
}
