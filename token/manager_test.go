package token

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latchkeyhq/latchkey/pkg/cryptox"
	"github.com/latchkeyhq/latchkey/pkg/jwtx"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()

	if cfg.Signer == nil {
		signer, err := jwtx.NewSignerHS256("test", testSecret)
		require.NoError(t, err)
		cfg.Signer = signer
	}
	if cfg.Verifier == nil {
		cfg.Verifier = jwtx.NewVerifierHS256(testSecret)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "latchkey-test"
	}

	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestPairRoundTrip(t *testing.T) {
	m := newTestManager(t, Config{})

	access, refresh, err := m.Pair("sess-1", "user-1", false)
	require.NoError(t, err)
	require.NotEqual(t, access, refresh)

	ac, err := m.DecodeAccess(access, false)
	require.NoError(t, err)
	require.Equal(t, "sess-1", ac.SID)
	require.Equal(t, "user-1", ac.Subject)
	require.Equal(t, jwtx.KindAccess, ac.Kind)
	require.False(t, ac.Impersonated)

	rc, err := m.DecodeRefresh(refresh)
	require.NoError(t, err)
	require.Equal(t, "sess-1", rc.SID)
	require.Equal(t, jwtx.KindRefresh, rc.Kind)
}

func TestKindsDoNotCross(t *testing.T) {
	m := newTestManager(t, Config{})

	access, refresh, err := m.Pair("sess-1", "user-1", false)
	require.NoError(t, err)

	_, err = m.DecodeAccess(refresh, false)
	require.ErrorIs(t, err, jwtx.ErrInvalidClaim)

	_, err = m.DecodeRefresh(access)
	require.ErrorIs(t, err, jwtx.ErrInvalidClaim)
}

func TestExpiredAccessToken(t *testing.T) {
	m := newTestManager(t, Config{})
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	access, err := m.AccessToken("sess-1", "user-1", false)
	require.NoError(t, err)

	_, err = m.DecodeAccess(access, false)
	require.ErrorIs(t, err, jwtx.ErrExpired)

	t.Run("ignore expiration still reads the claims", func(t *testing.T) {
		claims, err := m.DecodeAccess(access, true)
		require.NoError(t, err)
		require.Equal(t, "sess-1", claims.SID)
	})

	t.Run("but never a bad signature", func(t *testing.T) {
		otherVerifier := jwtx.NewVerifierHS256([]byte("another-secret-another-secret-32"))
		other := newTestManager(t, Config{Verifier: otherVerifier})

		_, err := other.DecodeAccess(access, true)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})
}

func TestExpiredRefreshTokenAlwaysFails(t *testing.T) {
	m := newTestManager(t, Config{RefreshTTL: time.Minute})
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }

	refresh, err := m.RefreshToken("sess-1", "user-1", false)
	require.NoError(t, err)

	_, err = m.DecodeRefresh(refresh)
	require.ErrorIs(t, err, jwtx.ErrExpired)
}

func TestImpersonationFlagSurvives(t *testing.T) {
	m := newTestManager(t, Config{})

	access, err := m.AccessToken("sess-1", "admin-1", true)
	require.NoError(t, err)

	claims, err := m.DecodeAccess(access, false)
	require.NoError(t, err)
	require.True(t, claims.Impersonated)
}

func TestIssuerEnforced(t *testing.T) {
	minter := newTestManager(t, Config{Issuer: "service-a"})
	checker := newTestManager(t, Config{Issuer: "service-b"})

	access, err := minter.AccessToken("sess-1", "user-1", false)
	require.NoError(t, err)

	_, err = checker.DecodeAccess(access, false)
	require.ErrorIs(t, err, jwtx.ErrIssuer)
}

func TestRandomTokenIsOpaque(t *testing.T) {
	m := newTestManager(t, Config{})

	a, err := m.RandomToken()
	require.NoError(t, err)
	b, err := m.RandomToken()
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.NotContains(t, a, ".")

	t.Run("hex encoded", func(t *testing.T) {
		raw, err := hex.DecodeString(a)
		require.NoError(t, err)
		require.Len(t, raw, cryptox.TokenSizeSingleUse)
	})
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{})
	require.ErrorIs(t, err, ErrNoSigner)
}
