// Package magiclink implements passwordless login over emailed single-use
// links. Prepare issues and delivers the token; Authenticate consumes it.
package magiclink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/notification"
	"github.com/latchkeyhq/latchkey/pkg/cryptox"
	"github.com/latchkeyhq/latchkey/store"
	"github.com/latchkeyhq/latchkey/strategy"
)

const StrategyName = "magiclink"

// DefaultTokenTTL bounds how long a link stays usable.
const DefaultTokenTTL = 15 * time.Minute

// PrepareParams asks for a link to be sent to the address.
type PrepareParams struct {
	Email string
}

// Params redeems a link.
type Params struct {
	Token string
}

type Config struct {
	// Sender delivers the link token. Required for Prepare.
	Sender notification.Sender

	// Ambiguous makes Prepare succeed silently for unknown addresses so
	// the flow cannot be used to probe which accounts exist.
	Ambiguous bool

	TokenTTL time.Duration

	Logger *slog.Logger
}

type Strategy struct {
	store store.Store
	cfg   Config
}

func New(cfg Config) *Strategy {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = DefaultTokenTTL
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

// Prepare issues a single-use link token for the address and hands it to the
// sender.
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

	tok, err := cryptox.GenerateHexToken(cryptox.TokenSizeSingleUse)
	if err != nil {
		return err
	}
	if err := s.store.Users().AddLoginToken(ctx, domain.TokenKindMagicLink, user.ID, p.Email, tok); err != nil {
		return err
	}

	if s.cfg.Sender == nil {
		s.cfg.Logger.WarnContext(ctx, "no notification sender configured, magic link not delivered")
		return nil
	}
	if err := s.cfg.Sender.Send(ctx, notification.Message{
		Purpose: notification.PurposeMagicLink,
		Address: p.Email,
		UserID:  user.ID,
		Token:   tok,
	}); err != nil {
		s.cfg.Logger.ErrorContext(ctx, "magic link delivery failed", "error", err)
	}
	return nil
}

// Authenticate consumes the link token. Consumption is atomic in the store,
// so a link can log in exactly one caller.
func (s *Strategy) Authenticate(ctx context.Context, params any, conn domain.ConnectionInfo) (domain.User, error) {
	p, ok := params.(Params)
	if !ok || p.Token == "" {
		return domain.User{}, strategy.ErrMalformedParams
	}

	userID, rec, err := s.store.Users().ConsumeLoginToken(ctx, domain.TokenKindMagicLink, p.Token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, strategy.ErrInvalidOrExpiredToken
		}
		return domain.User{}, err
	}
	if rec.Expired(s.cfg.TokenTTL, time.Now()) {
		return domain.User{}, strategy.ErrInvalidOrExpiredToken
	}

	return s.store.Users().GetUserByID(ctx, userID)
}
