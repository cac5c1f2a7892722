package jwtx

import (
	"crypto/ed25519"

	"github.com/golang-jwt/jwt/v5"
)

// EdDSAVerifier validates JWTs signed using EdDSA (Ed25519).
type EdDSAVerifier struct {
	pub ed25519.PublicKey
}

// NewVerifierEdDSA creates a verifier from an Ed25519 public key.
func NewVerifierEdDSA(pub ed25519.PublicKey) *EdDSAVerifier {
	return &EdDSAVerifier{pub: pub}
}

// Verify validates the JWT string and returns its parsed Claims.
func (v *EdDSAVerifier) Verify(tokenStr string, opts VerifyOptions) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.pub, nil
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
