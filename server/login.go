package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/hooks"
	"github.com/latchkeyhq/latchkey/pkg/idx"
	"github.com/latchkeyhq/latchkey/strategy"
)

// LoginWithService authenticates with the named strategy and, on success,
// creates a session and mints the token pair.
func (s *Server) LoginWithService(ctx context.Context, serviceName string, params any, conn domain.ConnectionInfo) (domain.LoginResult, error) {
	strat, ok := s.registry.Get(serviceName)
	if !ok {
		return domain.LoginResult{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, serviceName)
	}

	if !s.throttle.allow(serviceName + ":" + conn.IP) {
		s.metrics.loginThrottled.Add(1)
		return domain.LoginResult{}, ErrThrottled
	}

	user, err := strat.Authenticate(ctx, params, conn)
	if err != nil {
		s.metrics.loginFailure.Add(1)
		s.logger(ctx).WarnContext(ctx, "login failed",
			"strategy", serviceName, "ip", conn.IP, "err", err)
		s.emit(ctx, hooks.Event{
			Type:      hooks.EventLoginFailure,
			Strategy:  serviceName,
			IP:        conn.IP,
			UserAgent: conn.UserAgent,
			Error:     err.Error(),
		})
		if s.ambiguous && errors.Is(err, strategy.ErrUserNotFound) {
			return domain.LoginResult{}, strategy.ErrAuthenticationFailed
		}
		return domain.LoginResult{}, err
	}

	result, err := s.loginUser(ctx, user, serviceName, conn)
	if err != nil {
		s.metrics.loginFailure.Add(1)
		s.emit(ctx, hooks.Event{
			Type:      hooks.EventLoginFailure,
			UserID:    user.ID,
			Strategy:  serviceName,
			IP:        conn.IP,
			UserAgent: conn.UserAgent,
			Error:     err.Error(),
		})
		return domain.LoginResult{}, err
	}
	return result, nil
}

// LoginWithUser creates a session for an already-authenticated user. This is
// the path for callers that did their own verification (e.g. a trusted
// back-office); the usual gates still apply.
func (s *Server) LoginWithUser(ctx context.Context, user domain.User, conn domain.ConnectionInfo) (domain.LoginResult, error) {
	// Re-read so a stale caller copy cannot bypass deactivation.
	fresh, err := s.store.Users().GetUserByID(ctx, user.ID)
	if err != nil {
		return domain.LoginResult{}, s.mapUserErr(err)
	}

	result, err := s.loginUser(ctx, fresh, "direct", conn)
	if err != nil {
		s.metrics.loginFailure.Add(1)
		return domain.LoginResult{}, err
	}
	return result, nil
}

// loginUser is the shared session-creation path behind every login flavor.
func (s *Server) loginUser(ctx context.Context, user domain.User, serviceName string, conn domain.ConnectionInfo) (domain.LoginResult, error) {
	if !user.Active {
		return domain.LoginResult{}, ErrUserDeactivated
	}

	if s.validateLogin != nil {
		if err := s.validateLogin(ctx, user.Sanitized(), conn); err != nil {
			return domain.LoginResult{}, fmt.Errorf("%w: %w", ErrNotAuthorized, err)
		}
	}

	result, err := s.createSession(ctx, user, conn, false)
	if err != nil {
		return domain.LoginResult{}, err
	}

	s.metrics.loginSuccess.Add(1)
	s.logger(ctx).InfoContext(ctx, "login",
		"user_id", user.ID, "session_id", result.SessionID, "strategy", serviceName)
	s.emit(ctx, hooks.Event{
		Type:      hooks.EventLoginSuccess,
		UserID:    user.ID,
		SessionID: result.SessionID,
		Strategy:  serviceName,
		IP:        conn.IP,
		UserAgent: conn.UserAgent,
	})
	return result, nil
}

// createSession persists a session row and mints the correlated token pair.
func (s *Server) createSession(ctx context.Context, user domain.User, conn domain.ConnectionInfo, impersonated bool) (domain.LoginResult, error) {
	sess := domain.Session{
		ID:           idx.New().String(),
		UserID:       user.ID,
		Valid:        true,
		IP:           conn.IP,
		UserAgent:    conn.UserAgent,
		Impersonated: impersonated,
	}
	if err := s.store.Sessions().CreateSession(ctx, sess); err != nil {
		return domain.LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	access, refresh, err := s.tokens.Pair(sess.ID, user.ID, impersonated)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("mint tokens: %w", err)
	}

	return domain.LoginResult{
		SessionID: sess.ID,
		User:      user.Sanitized(),
		Tokens:    domain.Tokens{AccessToken: access, RefreshToken: refresh},
	}, nil
}

// VerifyAuthentication runs a strategy without creating a session, for
// step-up and re-auth checks on an already-logged-in caller.
func (s *Server) VerifyAuthentication(ctx context.Context, serviceName string, params any, conn domain.ConnectionInfo) (domain.User, error) {
	strat, ok := s.registry.Get(serviceName)
	if !ok {
		return domain.User{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, serviceName)
	}

	if !s.throttle.allow(serviceName + ":" + conn.IP) {
		s.metrics.loginThrottled.Add(1)
		return domain.User{}, ErrThrottled
	}

	user, err := strat.Authenticate(ctx, params, conn)
	if err != nil {
		if s.ambiguous && errors.Is(err, strategy.ErrUserNotFound) {
			return domain.User{}, strategy.ErrAuthenticationFailed
		}
		return domain.User{}, err
	}
	if !user.Active {
		return domain.User{}, ErrUserDeactivated
	}
	return user.Sanitized(), nil
}
