// Package code implements passwordless login with short numeric codes,
// typically delivered over email or SMS. Codes are low-entropy, so they get a
// short lifetime and are scoped to the address they were issued for.
package code

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/notification"
	"github.com/latchkeyhq/latchkey/pkg/cryptox"
	"github.com/latchkeyhq/latchkey/store"
	"github.com/latchkeyhq/latchkey/strategy"
)

const StrategyName = "code"

const (
	// DefaultCodeTTL bounds how long a code stays usable. Kept short
	// because codes are guessable in a way opaque tokens are not.
	DefaultCodeTTL = 5 * time.Minute

	// DefaultDigits is the code length.
	DefaultDigits = 6
)

// PrepareParams asks for a code to be sent to the address.
type PrepareParams struct {
	Email string
}

// Params redeems a code for the address it was issued to.
type Params struct {
	Email string
	Code  string
}

type Config struct {
	// Sender delivers the code. Required for Prepare.
	Sender notification.Sender

	// Ambiguous makes Prepare succeed silently for unknown addresses.
	Ambiguous bool

	CodeTTL time.Duration
	Digits  int

	Logger *slog.Logger
}

type Strategy struct {
	store store.Store
	cfg   Config
}

func New(cfg Config) *Strategy {
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.Digits == 0 {
		cfg.Digits = DefaultDigits
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Strategy{cfg: cfg}
}

func (s *Strategy) Name() string            { return StrategyName }
func (s *Strategy) SetStore(st store.Store) { s.store = st }

// SetAmbiguous can only enable ambiguity, never disable it.
func (s *Strategy) SetAmbiguous(ambiguous bool) {
	if ambiguous {
		s.cfg.Ambiguous = true
	}
}

// storedToken scopes the code to the address so the same six digits issued
// to two users can never cross over.
func storedToken(email, code string) string {
	return strings.ToLower(email) + ":" + code
}

// Prepare issues a numeric code for the address and hands it to the sender.
func (s *Strategy) Prepare(ctx context.Context, params any) error {
	p, ok := params.(PrepareParams)
	if !ok || p.Email == "" {
		return strategy.ErrMalformedParams
	}

	user, err := s.store.Users().GetUserByEmail(ctx, p.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && s.cfg.Ambiguous {
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return strategy.ErrUserNotFound
		}
		return err
	}

	code, err := cryptox.GenerateNumericCode(s.cfg.Digits)
	if err != nil {
		return err
	}
	if err := s.store.Users().AddLoginToken(ctx, domain.TokenKindLoginCode, user.ID, p.Email, storedToken(p.Email, code)); err != nil {
		return err
	}

	if s.cfg.Sender == nil {
		s.cfg.Logger.WarnContext(ctx, "no notification sender configured, login code not delivered")
		return nil
	}
	if err := s.cfg.Sender.Send(ctx, notification.Message{
		Purpose: notification.PurposeLoginCode,
		Address: p.Email,
		UserID:  user.ID,
		Token:   code,
	}); err != nil {
		s.cfg.Logger.ErrorContext(ctx, "login code delivery failed", "error", err)
	}
	return nil
}

// Authenticate consumes the code.
func (s *Strategy) Authenticate(ctx context.Context, params any, conn domain.ConnectionInfo) (domain.User, error) {
	p, ok := params.(Params)
	if !ok || p.Email == "" || p.Code == "" {
		return domain.User{}, strategy.ErrMalformedParams
	}

	userID, rec, err := s.store.Users().ConsumeLoginToken(ctx, domain.TokenKindLoginCode, storedToken(p.Email, p.Code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, strategy.ErrInvalidOrExpiredToken
		}
		return domain.User{}, err
	}
	if rec.Expired(s.cfg.CodeTTL, time.Now()) {
		return domain.User{}, strategy.ErrInvalidOrExpiredToken
	}

	return s.store.Users().GetUserByID(ctx, userID)
}
