package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// HS256Verifier validates JWTs signed with a shared HMAC-SHA256 secret.
type HS256Verifier struct {
	secret []byte
}

// NewVerifierHS256 creates a verifier for the shared secret.
func NewVerifierHS256(secret []byte) *HS256Verifier {
	return &HS256Verifier{secret: secret}
}

// Verify validates the JWT string and returns its parsed Claims. Expiry is
// always checked by us (not the jwt library) so VerifyOptions.IgnoreExpiry can
// accept an expired-but-authentic token without weakening signature checks.
func (v *HS256Verifier) Verify(tokenStr string, opts VerifyOptions) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidClaim
	}

	if err := validateClaims(claims, opts); err != nil {
		return nil, err
	}

	return claims, nil
}

// mapParseError collapses golang-jwt errors onto our sentinels so callers can
// tell tampered from merely-unparseable without importing the jwt package.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrAlgMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrMalformed
	}
}
