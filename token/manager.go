// Package token mints and decodes the session token pair. Every token is
// bound to a session ID; revoking the session kills both tokens at once
// without any token blacklist.
package token

import (
	"errors"
	"time"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/pkg/cryptox"
	"github.com/latchkeyhq/latchkey/pkg/jwtx"
)

var (
	// ErrNoSigner reports a Manager built without signing material.
	ErrNoSigner = errors.New("token: no signer configured")
)

// Config carries everything a Manager needs. Zero TTLs fall back to the
// jwtx defaults.
type Config struct {
	// Signer signs new tokens. Required.
	Signer jwtx.Signer

	// Verifier validates presented tokens. Required, and must hold the
	// verification side of Signer's key.
	Verifier jwtx.Verifier

	// Issuer goes into the iss claim and is enforced on decode.
	Issuer string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Leeway tolerated on exp/nbf when decoding, for clock skew between
	// instances.
	Leeway time.Duration
}

// Manager is safe for concurrent use.
type Manager struct {
	signer     jwtx.Signer
	verifier   jwtx.Verifier
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Signer == nil || cfg.Verifier == nil {
		return nil, ErrNoSigner
	}
	if err := cfg.Signer.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		signer:     cfg.Signer,
		verifier:   cfg.Verifier,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		leeway:     cfg.Leeway,
		now:        time.Now,
	}
	if m.accessTTL == 0 {
		m.accessTTL = jwtx.DefaultAccessTokenTTL
	}
	if m.refreshTTL == 0 {
		m.refreshTTL = jwtx.DefaultRefreshTokenTTL
	}
	return m, nil
}

// AccessTTL reports the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// AccessToken mints an access token for the session.
func (m *Manager) AccessToken(sessionID, userID string, impersonated bool) (string, error) {
	claims := jwtx.NewSessionClaims(
		jwtx.KindAccess, userID, sessionID, impersonated,
		m.accessTTL, m.issuer, m.now(),
	)
	return m.signer.Sign(claims)
}

// RefreshToken mints a refresh token for the session.
func (m *Manager) RefreshToken(sessionID, userID string, impersonated bool) (string, error) {
	claims := jwtx.NewSessionClaims(
		jwtx.KindRefresh, userID, sessionID, impersonated,
		m.refreshTTL, m.issuer, m.now(),
	)
	return m.signer.Sign(claims)
}

// Pair mints the access/refresh pair in one call.
func (m *Manager) Pair(sessionID, userID string, impersonated bool) (access, refresh string, err error) {
	access, err = m.AccessToken(sessionID, userID, impersonated)
	if err != nil {
		return "", "", err
	}
	refresh, err = m.RefreshToken(sessionID, userID, impersonated)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// DecodeAccess verifies an access token. With ignoreExpiration the signature
// and structural checks still run; only exp/nbf are skipped. The refresh flow
// uses that to read the session ID out of an expired access token.
func (m *Manager) DecodeAccess(token string, ignoreExpiration bool) (*jwtx.Claims, error) {
	return m.verifier.Verify(token, jwtx.VerifyOptions{
		Issuer:       m.issuer,
		Kind:         jwtx.KindAccess,
		Leeway:       m.leeway,
		IgnoreExpiry: ignoreExpiration,
	})
}

// DecodeRefresh verifies a refresh token. Expiry is always enforced; an
// expired refresh token means a full login, never a refresh.
func (m *Manager) DecodeRefresh(token string) (*jwtx.Claims, error) {
	return m.verifier.Verify(token, jwtx.VerifyOptions{
		Issuer: m.issuer,
		Kind:   jwtx.KindRefresh,
		Leeway: m.leeway,
	})
}

// RandomToken returns an opaque single-use token (magic links, email
// verification, password resets). These are hex-encoded random strings, not
// JWTs; the store keeps only a fingerprint.
func (m *Manager) RandomToken() (string, error) {
	return cryptox.GenerateHexToken(cryptox.TokenSizeSingleUse)
}

// IsRecordExpired reports whether a single-use token record issued at
// rec.When has outlived ttl.
func IsRecordExpired(rec domain.TokenRecord, ttl time.Duration) bool {
	return rec.Expired(ttl, time.Now())
}
