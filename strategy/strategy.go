// Package strategy defines the pluggable authentication contract. A strategy
// proves who a caller is; it never creates sessions or mints tokens, that is
// the server's job.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/hooks"
	"github.com/latchkeyhq/latchkey/store"
)

var (
	// ErrAuthenticationFailed means the presented credentials were wrong.
	// Strategies with ambiguous errors enabled return this for unknown
	// identities too, so callers cannot probe which accounts exist.
	ErrAuthenticationFailed = errors.New("strategy: authentication failed")

	// ErrMalformedParams means the params value was not the type or shape
	// the strategy expects.
	ErrMalformedParams = errors.New("strategy: malformed params")

	// ErrInvalidOrExpiredToken means a single-use token was unknown,
	// already consumed, or past its lifetime.
	ErrInvalidOrExpiredToken = errors.New("strategy: invalid or expired token")

	// ErrUserNotFound is returned for unknown identities when ambiguous
	// errors are disabled.
	ErrUserNotFound = errors.New("strategy: user not found")
)

// Strategy is one way of proving an identity. Implementations receive their
// store via SetStore when the server is constructed and must be safe for
// concurrent use after that.
type Strategy interface {
	// Name is the key the strategy is registered and addressed under.
	Name() string

	// SetStore hands the strategy its persistence. Called exactly once,
	// before any other method.
	SetStore(s store.Store)

	// Authenticate verifies params and returns the matching user.
	// The returned user is not sanitized; the server does that.
	Authenticate(ctx context.Context, params any, conn domain.ConnectionInfo) (domain.User, error)
}

// Registerer is implemented by strategies that can create accounts.
type Registerer interface {
	Register(ctx context.Context, params any) (domain.User, error)
}

// Preparer is implemented by two-step strategies where something must be
// issued and delivered before Authenticate can succeed (login codes,
// magic links).
type Preparer interface {
	Prepare(ctx context.Context, params any) error
}

// Associator is implemented by strategies that enroll an extra credential on
// an existing user (TOTP). The returned value is strategy-specific material
// the caller must show the user, e.g. a provisioning URI.
type Associator interface {
	Associate(ctx context.Context, userID string, params any) (any, error)
}

// EventSinker is implemented by strategies that report lifecycle moments the
// server does not see, such as an email getting verified or a password being
// reset. The server hands over its event bus at construction.
type EventSinker interface {
	SetEvents(sink hooks.Sink)
}

// AmbiguitySetter is implemented by strategies that can make unknown
// identities indistinguishable from bad credentials. The server propagates
// its AmbiguousErrorMessages option through this, so the error-message and
// response-timing behavior cannot drift apart. Enabling is one-way: a
// strategy configured ambiguous stays ambiguous.
type AmbiguitySetter interface {
	SetAmbiguous(ambiguous bool)
}

// Registry is an immutable name-to-strategy map built once at server
// construction.
type Registry struct {
	byName map[string]Strategy
}

// NewRegistry wires the store into every strategy and indexes them by name.
// Duplicate names are a configuration error.
func NewRegistry(s store.Store, strategies ...Strategy) (*Registry, error) {
	byName := make(map[string]Strategy, len(strategies))
	for _, strat := range strategies {
		name := strat.Name()
		if name == "" {
			return nil, fmt.Errorf("strategy with empty name (%T)", strat)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate strategy name %q", name)
		}
		strat.SetStore(s)
		byName[name] = strat
	}
	return &Registry{byName: byName}, nil
}

// Get returns the named strategy.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Names lists the registered strategy names, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
