package server

import "errors"

// The orchestrator's error taxonomy. Strategy-level failures
// (strategy.ErrAuthenticationFailed and friends) and token failures
// (jwtx.ErrExpired, jwtx.ErrInvalidSig, ...) pass through wrapped, so callers
// match everything with errors.Is.
var (
	// ErrUnknownStrategy means no strategy is registered under the name.
	ErrUnknownStrategy = errors.New("server: unknown strategy")

	// ErrUserNotFound means the referenced user does not exist.
	ErrUserNotFound = errors.New("server: user not found")

	// ErrUserDeactivated means the user exists but is blocked from new
	// logins and session resumption.
	ErrUserDeactivated = errors.New("server: user deactivated")

	// ErrSessionNotFound means the token referenced a session that does
	// not exist.
	ErrSessionNotFound = errors.New("server: session not found")

	// ErrSessionInvalid means the session exists but was revoked.
	ErrSessionInvalid = errors.New("server: session invalid")

	// ErrTokenMismatch means the access and refresh tokens of a refresh
	// call decode to different sessions.
	ErrTokenMismatch = errors.New("server: token pair mismatch")

	// ErrNotAuthorized means a gating hook vetoed the operation.
	ErrNotAuthorized = errors.New("server: not authorized")

	// ErrThrottled means the per-identity login throttle rejected the
	// attempt.
	ErrThrottled = errors.New("server: too many attempts")

	// ErrInvalidConfiguration is returned by New for unusable options.
	// Construction fails fast; it is never returned per-call.
	ErrInvalidConfiguration = errors.New("server: invalid configuration")
)
