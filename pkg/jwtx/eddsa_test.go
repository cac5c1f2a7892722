package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func generateEd25519PEM(t *testing.T) []byte {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestEdDSARoundTrip(t *testing.T) {
	t.Parallel()

	pemKey := generateEd25519PEM(t)
	signer, err := NewSignerEdDSA("ed1", pemKey)
	require.NoError(t, err)
	require.NoError(t, signer.Validate())

	tok, err := signer.Sign(NewSessionClaims(KindAccess, "u", "s", false, time.Hour, "latchkey", time.Now()))
	require.NoError(t, err)

	verifier := NewVerifierEdDSA(signer.(*EdDSASigner).Public())
	got, err := verifier.Verify(tok, VerifyOptions{Issuer: "latchkey", Kind: KindAccess})
	require.NoError(t, err)
	require.Equal(t, "s", got.SID)
}

func TestEdDSARejectsWrongKey(t *testing.T) {
	t.Parallel()

	signer, err := NewSignerEdDSA("ed1", generateEd25519PEM(t))
	require.NoError(t, err)

	tok, err := signer.Sign(NewSessionClaims(KindAccess, "u", "s", false, time.Hour, "", time.Now()))
	require.NoError(t, err)

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	_, err = NewVerifierEdDSA(otherPub).Verify(tok, VerifyOptions{})
	require.ErrorIs(t, err, ErrInvalidSig)
}

func TestEdDSARejectsBadPEM(t *testing.T) {
	t.Parallel()

	_, err := NewSignerEdDSA("ed1", []byte("not pem"))
	require.Error(t, err)
}
