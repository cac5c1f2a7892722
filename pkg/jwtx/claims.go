package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTLs for the session token pair. Access tokens are short-lived
// because revocation is checked against the session record, not the token.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	DefaultAccessTokenTTL = 90 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	// Must outlive the access token or refresh flows can never run.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Token kinds embedded in the claims. A refresh token must never be accepted
// where an access token is expected, and vice versa.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Claims are the session-token claims used across the toolkit. Keep changes
// additive to preserve compatibility with already-issued tokens.
type Claims struct {
	jwt.RegisteredClaims

	/* Custom fields */

	// Session ID the token is bound to.
	SID string `json:"sid,omitempty"`

	// Kind distinguishes access from refresh tokens.
	Kind string `json:"kind,omitempty"`

	// Impersonated marks tokens minted through the impersonation flow so
	// downstream consumers can restrict what an impersonator may do.
	Impersonated bool `json:"imp,omitempty"`
}

// NewSessionClaims builds minimally-correct claims for a session token.
// The subject is the user ID that owns the session.
func NewSessionClaims(
	kind, subject, sid string,
	impersonated bool,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:          sid,
		Kind:         kind,
		Impersonated: impersonated,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateKind checks the token kind matches what the caller expects.
func (c *Claims) ValidateKind(expected string) error {
	if expected == "" {
		return nil
	}

	if c.Kind != expected {
		return ErrInvalidClaim
	}

	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryWithLeeway(0)
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	// Check expired (exp)
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	// Check a token isn't used before it becomes valid (nbf)
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
