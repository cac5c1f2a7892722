package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// EmailRecord is one address attached to a user. Addresses are unique across
// the whole system, not just per user.
type EmailRecord struct {
	Address  string
	Verified bool
}

// ServiceRecord is the credential sub-document a single authentication
// strategy keeps on a user: a password hash, an OAuth profile, a TOTP secret.
// The payload is opaque to everything except the owning strategy.
type ServiceRecord struct {
	// ServiceID is the strategy-side identifier for the user (e.g., the
	// OAuth provider's user id). Empty for strategies without one.
	ServiceID string
	Payload   json.RawMessage
}

// User is an identity record. Users are never deleted by the toolkit;
// deactivation flips Active and blocks new logins and session resumption.
type User struct {
	ID       string
	Username string
	Active   bool
	Emails   []EmailRecord

	// Services maps strategy name to that strategy's credential
	// sub-document. Always stripped before a user leaves the server; see
	// Sanitized.
	Services map[string]ServiceRecord

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Email returns the record for the given address, matched case-insensitively.
func (u User) Email(address string) (EmailRecord, bool) {
	for _, e := range u.Emails {
		if strings.EqualFold(e.Address, address) {
			return e, true
		}
	}
	return EmailRecord{}, false
}

// HasVerifiedEmail reports whether any address on the user is verified.
func (u User) HasVerifiedEmail() bool {
	for _, e := range u.Emails {
		if e.Verified {
			return true
		}
	}
	return false
}

// Sanitized returns a copy safe to hand to callers: every strategy credential
// sub-document (password hashes, OAuth profiles, OTP secrets) is dropped.
func (u User) Sanitized() User {
	u.Services = nil
	return u
}
