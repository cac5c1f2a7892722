// Package password implements username/email + password authentication with
// argon2id hashes, plus the email verification and password reset flows that
// belong to password accounts.
package password

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/hooks"
	"github.com/latchkeyhq/latchkey/notification"
	"github.com/latchkeyhq/latchkey/pkg/cryptox"
	"github.com/latchkeyhq/latchkey/pkg/idx"
	"github.com/latchkeyhq/latchkey/store"
	"github.com/latchkeyhq/latchkey/strategy"
)

// StrategyName is the registry key for this strategy.
const StrategyName = "password"

const (
	// DefaultVerifyTokenTTL bounds email verification tokens.
	DefaultVerifyTokenTTL = 24 * time.Hour

	// DefaultResetTokenTTL bounds password reset tokens. Short because a
	// reset token is a full account takeover.
	DefaultResetTokenTTL = 30 * time.Minute
)

// Params is the Authenticate input. Identity is an email address or a
// username; email is tried first.
type Params struct {
	Identity string
	Password string
}

// RegisterParams is the Register input. Email is required; Username is
// optional.
type RegisterParams struct {
	Username string
	Email    string
	Password string
}

// Config tunes the strategy. The zero value is usable.
type Config struct {
	// Ambiguous makes unknown identities indistinguishable from wrong
	// passwords: both cost one argon2 verification and both return
	// ErrAuthenticationFailed.
	Ambiguous bool

	// Sender delivers verification and reset tokens. Required for the
	// Request* flows; Authenticate works without it.
	Sender notification.Sender

	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration

	Logger *slog.Logger
}

type Strategy struct {
	store  store.Store
	events hooks.Sink
	cfg    Config
}

func New(cfg Config) *Strategy {
	if cfg.VerifyTokenTTL == 0 {
		cfg.VerifyTokenTTL = DefaultVerifyTokenTTL
	}
	if cfg.ResetTokenTTL == 0 {
		cfg.ResetTokenTTL = DefaultResetTokenTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Strategy{cfg: cfg}
}

func (s *Strategy) Name() string            { return StrategyName }
func (s *Strategy) SetStore(st store.Store) { s.store = st }

// SetEvents receives the lifecycle event sink, usually the server's bus.
func (s *Strategy) SetEvents(sink hooks.Sink) { s.events = sink }

// SetAmbiguous can only enable ambiguity, never disable it.
func (s *Strategy) SetAmbiguous(ambiguous bool) {
	if ambiguous {
		s.cfg.Ambiguous = true
	}
}

func (s *Strategy) emit(ctx context.Context, event hooks.Event) {
	if s.events != nil {
		s.events.Emit(ctx, event)
	}
}

// dummyHash is verified against when the identity is unknown and ambiguous
// errors are on, so both paths cost one argon2 run.
var (
	dummyOnce sync.Once
	dummyHash string
)

func dummyVerify(password string) {
	dummyOnce.Do(func() {
		h, err := cryptox.HashPassword("latchkey-dummy-password")
		if err == nil {
			dummyHash = h
		}
	})
	if dummyHash != "" {
		_ = cryptox.VerifyPassword(password, dummyHash)
	}
}

func (s *Strategy) Authenticate(ctx context.Context, params any, conn domain.ConnectionInfo) (domain.User, error) {
	p, ok := params.(Params)
	if !ok {
		return domain.User{}, strategy.ErrMalformedParams
	}
	if p.Identity == "" || p.Password == "" {
		return domain.User{}, strategy.ErrMalformedParams
	}

	user, err := s.findByIdentity(ctx, p.Identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if s.cfg.Ambiguous {
				dummyVerify(p.Password)
				return domain.User{}, strategy.ErrAuthenticationFailed
			}
			return domain.User{}, strategy.ErrUserNotFound
		}
		return domain.User{}, err
	}

	hash, err := s.store.Users().FindPasswordHash(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Account exists but has no password credential (oauth-only).
			dummyVerify(p.Password)
			return domain.User{}, strategy.ErrAuthenticationFailed
		}
		return domain.User{}, err
	}

	if err := cryptox.VerifyPassword(p.Password, hash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return domain.User{}, strategy.ErrAuthenticationFailed
		}
		return domain.User{}, err
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

// Register creates a password account. The email starts unverified; callers
// follow up with RequestEmailVerification.
func (s *Strategy) Register(ctx context.Context, params any) (domain.User, error) {
	p, ok := params.(RegisterParams)
	if !ok {
		return domain.User{}, strategy.ErrMalformedParams
	}
	if p.Email == "" || p.Password == "" {
		return domain.User{}, strategy.ErrMalformedParams
	}

	hash, err := cryptox.HashPassword(p.Password)
	if err != nil {
		return domain.User{}, err
	}

	user := domain.User{
		ID:       idx.New().String(),
		Username: p.Username,
		Active:   true,
		Emails:   []domain.EmailRecord{{Address: p.Email, Verified: false}},
	}
	if err := s.store.Users().CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	if err := s.store.Users().SetPassword(ctx, user.ID, hash); err != nil {
		return domain.User{}, err
	}

	return s.store.Users().GetUserByID(ctx, user.ID)
}

// RequestEmailVerification issues a single-use verification token for the
// address and hands it to the sender. Unknown addresses succeed silently when
// ambiguous errors are on.
func (s *Strategy) RequestEmailVerification(ctx context.Context, address string) error {
	user, err := s.store.Users().GetUserByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && s.cfg.Ambiguous {
			return nil
		}
		return err
	}

	tok, err := cryptox.GenerateHexToken(cryptox.TokenSizeSingleUse)
	if err != nil {
		return err
	}
	if err := s.store.Users().AddEmailVerificationToken(ctx, user.ID, address, tok); err != nil {
		return err
	}

	s.send(ctx, notification.Message{
		Purpose: notification.PurposeVerifyEmail,
		Address: address,
		UserID:  user.ID,
		Token:   tok,
	})
	return nil
}

// VerifyEmail consumes a verification token and marks the address verified.
func (s *Strategy) VerifyEmail(ctx context.Context, token string) (domain.User, error) {
	userID, rec, err := s.store.Users().ConsumeLoginToken(ctx, domain.TokenKindVerifyEmail, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, strategy.ErrInvalidOrExpiredToken
		}
		return domain.User{}, err
	}
	if rec.Expired(s.cfg.VerifyTokenTTL, time.Now()) {
		return domain.User{}, strategy.ErrInvalidOrExpiredToken
	}

	if err := s.store.Users().VerifyEmail(ctx, userID, rec.Address); err != nil {
		return domain.User{}, err
	}

	s.emit(ctx, hooks.Event{
		Type:     hooks.EventEmailVerified,
		UserID:   userID,
		Strategy: StrategyName,
	})
	return s.store.Users().GetUserByID(ctx, userID)
}

// RequestPasswordReset issues a single-use reset token. Unknown addresses
// succeed silently when ambiguous errors are on.
func (s *Strategy) RequestPasswordReset(ctx context.Context, address string) error {
	user, err := s.store.Users().GetUserByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && s.cfg.Ambiguous {
			return nil
		}
		return err
	}

	tok, err := cryptox.GenerateHexToken(cryptox.TokenSizeSingleUse)
	if err != nil {
		return err
	}
	if err := s.store.Users().AddResetPasswordToken(ctx, user.ID, address, tok); err != nil {
		return err
	}

	s.send(ctx, notification.Message{
		Purpose: notification.PurposeResetPassword,
		Address: address,
		UserID:  user.ID,
		Token:   tok,
	})
	return nil
}

// ResetPassword consumes a reset token, installs the new password, and
// revokes every session the user holds.
func (s *Strategy) ResetPassword(ctx context.Context, token, newPassword string) (domain.User, error) {
	if newPassword == "" {
		return domain.User{}, strategy.ErrMalformedParams
	}

	userID, rec, err := s.store.Users().ConsumeLoginToken(ctx, domain.TokenKindResetPassword, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, strategy.ErrInvalidOrExpiredToken
		}
		return domain.User{}, err
	}
	if rec.Expired(s.cfg.ResetTokenTTL, time.Now()) {
		return domain.User{}, strategy.ErrInvalidOrExpiredToken
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return domain.User{}, err
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().SetResetPassword(ctx, userID, hash); err != nil {
			return err
		}
		return tx.Sessions().InvalidateAllSessions(ctx, userID)
	})
	if err != nil {
		return domain.User{}, err
	}

	s.emit(ctx, hooks.Event{
		Type:     hooks.EventPasswordReset,
		UserID:   userID,
		Strategy: StrategyName,
	})
	return s.store.Users().GetUserByID(ctx, userID)
}

// ChangePassword swaps the password after verifying the current one. Unlike
// ResetPassword it keeps existing sessions alive.
func (s *Strategy) ChangePassword(ctx context.Context, userID, current, next string) error {
	if next == "" {
		return strategy.ErrMalformedParams
	}

	hash, err := s.store.Users().FindPasswordHash(ctx, userID)
	if err != nil {
		return err
	}
	if err := cryptox.VerifyPassword(current, hash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return strategy.ErrAuthenticationFailed
		}
		return err
	}

	newHash, err := cryptox.HashPassword(next)
	if err != nil {
		return err
	}
	return s.store.Users().SetPassword(ctx, userID, newHash)
}

func (s *Strategy) send(ctx context.Context, msg notification.Message) {
	if s.cfg.Sender == nil {
		s.cfg.Logger.WarnContext(ctx, "no notification sender configured, token not delivered",
			"purpose", string(msg.Purpose))
		return
	}
	if err := s.cfg.Sender.Send(ctx, msg); err != nil {
		s.cfg.Logger.ErrorContext(ctx, "notification delivery failed",
			"purpose", string(msg.Purpose), "error", err)
	}
}
