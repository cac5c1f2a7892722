package jwtx

import (
	"errors"
	"time"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string, opts VerifyOptions) (*Claims, error)
}

// VerifyOptions captures per-call expectations. The refresh flow needs to
// decode an access token past its expiry (but never past a bad signature),
// so expiry enforcement is a per-call decision rather than verifier state.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Kind the token must have (access/refresh). Empty means "don't care".
	Kind string

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration

	// IgnoreExpiry skips exp/nbf checks entirely. Signature and structural
	// checks still run.
	IgnoreExpiry bool
}

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// validateClaims runs the shared post-signature checks.
func validateClaims(c *Claims, opts VerifyOptions) error {
	if err := c.ValidateIssuer(opts.Issuer); err != nil {
		return err
	}
	if err := c.ValidateKind(opts.Kind); err != nil {
		return err
	}
	if opts.IgnoreExpiry {
		return nil
	}
	return c.ValidateExpiryWithLeeway(opts.Leeway)
}
