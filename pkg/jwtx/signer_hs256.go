package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the smallest HS256 secret we accept. HMAC security
// degrades quickly below the hash output size.
const MinSecretLength = 32

// HS256Signer implements the Signer interface using HMAC-SHA256 with a
// shared secret.
type HS256Signer struct {
	kid    string
	secret []byte
	alg    string
}

func newHS256Signer(kid string, secret []byte) (*HS256Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.New("jwtx: HS256 secret must be at least 32 bytes")
	}

	return &HS256Signer{
		kid:    kid,
		secret: secret,
		alg:    jwt.SigningMethodHS256.Alg(),
	}, nil
}

func (s *HS256Signer) Alg() string { return s.alg }
func (s *HS256Signer) KID() string { return s.kid }

// Sign takes the claims and turns them into a signed JWT string.
func (s *HS256Signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.kid != "" {
		t.Header["kid"] = s.kid
	}
	return t.SignedString(s.secret)
}

// Validate does a quick sanity check that we actually have a usable secret.
func (s *HS256Signer) Validate() error {
	if len(s.secret) < MinSecretLength {
		return errors.New("jwtx: HS256 secret too short")
	}
	return nil
}
