// Package oauthsvc bridges external OAuth/OIDC providers into the strategy
// contract. The package never speaks OAuth itself; callers supply a Provider
// that turns whatever the wire gave them (a code, an id_token) into a
// Profile, and this strategy handles the account mapping.
package oauthsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/pkg/idx"
	"github.com/latchkeyhq/latchkey/store"
	"github.com/latchkeyhq/latchkey/strategy"
)

const StrategyName = "oauth"

// ErrNoProviders is returned by New when no provider is configured; the
// strategy would be unreachable.
var ErrNoProviders = errors.New("oauthsvc: no providers configured")

// ErrUnknownProvider is returned when params name a provider that was not
// registered.
var ErrUnknownProvider = errors.New("oauthsvc: unknown provider")

// Profile is what a provider learned about the caller. ID is the provider's
// stable user identifier and is required.
type Profile struct {
	ID       string
	Email    string
	Verified bool
	Name     string

	// Raw is stored in the credential sub-document for the caller's later
	// use (avatars, locales). Opaque to the toolkit.
	Raw json.RawMessage
}

// Provider exchanges provider-specific params for a profile. Implementations
// do the actual OAuth dance.
type Provider interface {
	Name() string
	Exchange(ctx context.Context, params any) (Profile, error)
}

// Params routes an exchange to a named provider.
type Params struct {
	Provider string

	// ProviderParams is passed to the provider's Exchange untouched.
	ProviderParams any
}

type Strategy struct {
	store     store.Store
	providers map[string]Provider
}

func New(providers ...Provider) (*Strategy, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		name := p.Name()
		if name == "" {
			return nil, fmt.Errorf("oauthsvc: provider with empty name (%T)", p)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("oauthsvc: duplicate provider name %q", name)
		}
		byName[name] = p
	}
	return &Strategy{providers: byName}, nil
}

func (s *Strategy) Name() string            { return StrategyName }
func (s *Strategy) SetStore(st store.Store) { s.store = st }

// serviceName is the credential sub-document key for a provider, e.g.
// "oauth.github".
func serviceName(provider string) string {
	return StrategyName + "." + provider
}

// Authenticate exchanges the params with the provider and maps the profile to
// a user: first by the provider's user id, then by verified email, otherwise
// a new account is created. The provider credential sub-document is upserted
// on every path so profile data stays fresh.
func (s *Strategy) Authenticate(ctx context.Context, params any, conn domain.ConnectionInfo) (domain.User, error) {
	p, ok := params.(Params)
	if !ok || p.Provider == "" {
		return domain.User{}, strategy.ErrMalformedParams
	}

	provider, ok := s.providers[p.Provider]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: %q", ErrUnknownProvider, p.Provider)
	}

	profile, err := provider.Exchange(ctx, p.ProviderParams)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", strategy.ErrAuthenticationFailed, err)
	}
	if profile.ID == "" {
		return domain.User{}, fmt.Errorf("%w: provider returned empty profile id", strategy.ErrAuthenticationFailed)
	}

	user, err := s.mapProfile(ctx, p.Provider, profile)
	if err != nil {
		return domain.User{}, err
	}

	if err := s.upsertCredential(ctx, user.ID, p.Provider, profile); err != nil {
		return domain.User{}, err
	}
	return s.store.Users().GetUserByID(ctx, user.ID)
}

func (s *Strategy) mapProfile(ctx context.Context, providerName string, profile Profile) (domain.User, error) {
	users := s.store.Users()

	user, err := users.GetUserByServiceID(ctx, serviceName(providerName), profile.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, err
	}

	// Link by email only when the provider vouched for it; an unverified
	// address would let anyone claim an existing account.
	if profile.Email != "" && profile.Verified {
		user, err := users.GetUserByEmail(ctx, profile.Email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.User{}, err
		}
	}

	user = domain.User{
		ID:     idx.New().String(),
		Active: true,
	}
	if profile.Email != "" {
		user.Emails = []domain.EmailRecord{{
			Address:  strings.ToLower(profile.Email),
			Verified: profile.Verified,
		}}
	}
	if err := users.CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (s *Strategy) upsertCredential(ctx context.Context, userID, providerName string, profile Profile) error {
	payload, err := json.Marshal(struct {
		ID    string          `json:"id"`
		Email string          `json:"email,omitempty"`
		Name  string          `json:"name,omitempty"`
		Raw   json.RawMessage `json:"raw,omitempty"`
	}{
		ID:    profile.ID,
		Email: profile.Email,
		Name:  profile.Name,
		Raw:   profile.Raw,
	})
	if err != nil {
		return err
	}
	return s.store.Users().SetService(ctx, userID, serviceName(providerName), profile.ID, payload)
}
