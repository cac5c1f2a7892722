package domain

import "time"

// TokenKind names a class of single-use token. Each kind has its own expiry
// window and consumption path.
type TokenKind string

const (
	TokenKindVerifyEmail   TokenKind = "verify_email"
	TokenKindResetPassword TokenKind = "reset_password"
	TokenKindMagicLink     TokenKind = "magic_link"
	TokenKindLoginCode     TokenKind = "login_code"
)

// TokenRecord is the stored side of a single-use token: the address it was
// issued for and when. The token value itself is never stored; stores keep a
// fingerprint and this record.
type TokenRecord struct {
	Address string
	When    time.Time
}

// Expired reports whether the record is older than ttl at the given time.
// A zero record (missing token) is always expired.
func (r TokenRecord) Expired(ttl time.Duration, now time.Time) bool {
	if r.When.IsZero() {
		return true
	}
	return now.Sub(r.When) > ttl
}

// Tokens is the correlated access/refresh pair minted at login. Both decode
// to the same session ID; neither is persisted.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is what a successful login or refresh returns.
type LoginResult struct {
	SessionID string
	User      User // sanitized
	Tokens    Tokens
}

// ImpersonationResult is what Impersonate returns. When the authorization
// hook denies the request, Authorized is false and no session exists.
type ImpersonationResult struct {
	Authorized bool
	SessionID  string
	User       User // sanitized target user
	Tokens     Tokens
}
