// Package otp implements TOTP (RFC 6238) authentication. Associate enrolls a
// secret for an existing user; Authenticate validates time-based codes with
// the standard one-period skew either side.
package otp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/store"
	"github.com/latchkeyhq/latchkey/strategy"
)

const StrategyName = "otp"

// ErrAlreadyEnrolled is returned by Associate when the user has a confirmed
// secret. Re-enrollment requires unsetting the credential first.
var ErrAlreadyEnrolled = errors.New("otp: already enrolled")

// Params is the Authenticate input.
type Params struct {
	// Identity is an email address or username.
	Identity string
	Code     string
}

// Enrollment is what Associate returns: the material the user needs to set
// up their authenticator app.
type Enrollment struct {
	Secret string

	// URL is the otpauth:// provisioning URI, typically rendered as a QR
	// code by the caller.
	URL string
}

type credential struct {
	Secret    string `json:"secret"`
	URL       string `json:"url"`
	Confirmed bool   `json:"confirmed"`
}

type Config struct {
	// Issuer shows up in authenticator apps next to the account name.
	Issuer string
}

type Strategy struct {
	store store.Store
	cfg   Config
}

func New(cfg Config) *Strategy {
	if cfg.Issuer == "" {
		cfg.Issuer = "latchkey"
	}
	return &Strategy{cfg: cfg}
}

func (s *Strategy) Name() string            { return StrategyName }
func (s *Strategy) SetStore(st store.Store) { s.store = st }

// Associate generates and stores a TOTP secret for the user. The secret is
// unconfirmed until the first successful Authenticate.
func (s *Strategy) Associate(ctx context.Context, userID string, params any) (any, error) {
	user, err := s.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if rec, err := s.store.Users().GetService(ctx, userID, StrategyName); err == nil {
		var cred credential
		if err := json.Unmarshal(rec.Payload, &cred); err == nil && cred.Confirmed {
			return nil, ErrAlreadyEnrolled
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	account := user.Username
	if account == "" && len(user.Emails) > 0 {
		account = user.Emails[0].Address
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: account,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(credential{Secret: key.Secret(), URL: key.URL()})
	if err != nil {
		return nil, err
	}
	if err := s.store.Users().SetService(ctx, userID, StrategyName, "", payload); err != nil {
		return nil, err
	}

	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Authenticate validates a TOTP code. The first valid code confirms the
// enrollment.
func (s *Strategy) Authenticate(ctx context.Context, params any, conn domain.ConnectionInfo) (domain.User, error) {
	p, ok := params.(Params)
	if !ok || p.Identity == "" || p.Code == "" {
		return domain.User{}, strategy.ErrMalformedParams
	}

	user, err := s.findByIdentity(ctx, p.Identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, strategy.ErrAuthenticationFailed
		}
		return domain.User{}, err
	}

	rec, err := s.store.Users().GetService(ctx, user.ID, StrategyName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, strategy.ErrAuthenticationFailed
		}
		return domain.User{}, err
	}

	var cred credential
	if err := json.Unmarshal(rec.Payload, &cred); err != nil {
		return domain.User{}, err
	}
	if cred.Secret == "" {
		return domain.User{}, strategy.ErrAuthenticationFailed
	}

	if !totp.Validate(p.Code, cred.Secret) {
		return domain.User{}, strategy.ErrAuthenticationFailed
	}

	if !cred.Confirmed {
		cred.Confirmed = true
		payload, err := json.Marshal(cred)
		if err != nil {
			return domain.User{}, err
		}
		if err := s.store.Users().SetService(ctx, user.ID, StrategyName, "", payload); err != nil {
			return domain.User{}, err
		}
	}

	return user, nil
}

func (s *Strategy) findByIdentity(ctx context.Context, identity string) (domain.User, error) {
	if strings.Contains(identity, "@") {
		if user, err := s.store.Users().GetUserByEmail(ctx, identity); err == nil {
			return user, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.User{}, err
		}
	}
	return s.store.Users().GetUserByUsername(ctx, identity)
}
