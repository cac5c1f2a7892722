package store

import (
	"context"
	"errors"
	"time"

	"github.com/latchkeyhq/latchkey/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence capability the server and strategies depend on.
// Concrete drivers (sqlite, redis, or a caller's own adapter) implement this.
// It exposes sub-repositories to keep concerns tidy and testable.
//
// Drivers are assumed to be safe for concurrent use; the server never caches
// user or session state across calls, so multiple server instances can share
// one database with no extra coordination.
type Store interface {
	Users() Users
	Sessions() Sessions

	// WithTx executes fn atomically where the driver supports transactions.
	// If fn returns an error the transaction is rolled back. Drivers without
	// multi-command transactions (redis) run fn against themselves and keep
	// the individual invariant-bearing operations atomic instead; see the
	// driver docs.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping verifies the backing store is still reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// Tx is a transaction-scoped view of the store, valid only inside WithTx.
type Tx interface {
	Users() Users
	Sessions() Sessions
}

type Users interface {
	// CreateUser inserts a new user (id is provided by the caller via ULID).
	// Fails with ErrAlreadyExists if the username or any email is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// GetUserByID returns a user with emails and services loaded.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByUsername matches exactly.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// GetUserByEmail matches case-insensitively.
	GetUserByEmail(ctx context.Context, address string) (domain.User, error)

	// GetUserByServiceID finds the user holding the given strategy-side
	// identifier (e.g., an OAuth provider user id).
	GetUserByServiceID(ctx context.Context, serviceName, serviceID string) (domain.User, error)

	// FindPasswordHash returns the stored password hash, or ErrNotFound if
	// the user has no password service.
	FindPasswordHash(ctx context.Context, userID string) (string, error)

	// SetPassword stores a new password hash for the user.
	SetPassword(ctx context.Context, userID, hash string) error

	// SetResetPassword stores a new password hash and clears any outstanding
	// reset-password tokens for the user.
	SetResetPassword(ctx context.Context, userID, hash string) error

	// SetUsername changes the username; ErrAlreadyExists if taken.
	SetUsername(ctx context.Context, userID, username string) error

	// SetActive flips the deactivation flag.
	SetActive(ctx context.Context, userID string, active bool) error

	// AddEmail attaches an address; ErrAlreadyExists if any user holds it.
	AddEmail(ctx context.Context, userID, address string, verified bool) error

	// RemoveEmail detaches an address from the user.
	RemoveEmail(ctx context.Context, userID, address string) error

	// VerifyEmail marks an address verified.
	VerifyEmail(ctx context.Context, userID, address string) error

	// SetService upserts a strategy credential sub-document.
	SetService(ctx context.Context, userID, serviceName, serviceID string, payload []byte) error

	// UnsetService removes a strategy credential sub-document.
	UnsetService(ctx context.Context, userID, serviceName string) error

	// GetService returns a strategy credential sub-document.
	GetService(ctx context.Context, userID, serviceName string) (domain.ServiceRecord, error)

	// AddEmailVerificationToken attaches a single-use email verification
	// token. Stores keep a fingerprint, never the raw token.
	AddEmailVerificationToken(ctx context.Context, userID, address, token string) error

	// AddResetPasswordToken attaches a single-use password reset token.
	AddResetPasswordToken(ctx context.Context, userID, address, token string) error

	// AddLoginToken attaches a single-use login token (magic link, one-time
	// code) of the given kind.
	AddLoginToken(ctx context.Context, kind domain.TokenKind, userID, address, token string) error

	// ConsumeLoginToken atomically looks up and removes a single-use token.
	// A second consume of the same token fails with ErrNotFound; this is
	// what makes single-use tokens single-use.
	ConsumeLoginToken(ctx context.Context, kind domain.TokenKind, token string) (userID string, rec domain.TokenRecord, err error)

	// DeleteExpiredLoginTokens removes tokens issued before cutoff
	// (housekeeping).
	DeleteExpiredLoginTokens(ctx context.Context, cutoff time.Time) error
}

type Sessions interface {
	// CreateSession inserts a new session row (id is a ULID from the caller).
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSessionByID returns the session or ErrNotFound.
	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	// GetSessionsByUserID returns every session owned by the user, revoked
	// ones included. An unknown user yields an empty slice, not an error.
	GetSessionsByUserID(ctx context.Context, userID string) ([]domain.Session, error)

	// UpdateSession refreshes connection info and bumps updated_at. It never
	// touches the valid flag, so a racing revocation cannot be overwritten.
	UpdateSession(ctx context.Context, id string, conn domain.ConnectionInfo) error

	// InvalidateSession revokes the session. Idempotent: revoking a revoked
	// or missing session is not an error. There is no operation that sets
	// valid back to true.
	InvalidateSession(ctx context.Context, id string) error

	// InvalidateAllSessions revokes every session owned by the user
	// (e.g., after a password reset).
	InvalidateAllSessions(ctx context.Context, userID string) error
}
