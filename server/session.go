package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/hooks"
	"github.com/latchkeyhq/latchkey/store"
)

// ResumeSession decodes an access token and returns the sanitized user it
// belongs to, provided the session is still valid and the user still active.
func (s *Server) ResumeSession(ctx context.Context, accessToken string) (domain.User, error) {
	claims, err := s.tokens.DecodeAccess(accessToken, false)
	if err != nil {
		return domain.User{}, err
	}

	sess, err := s.store.Sessions().GetSessionByID(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrSessionNotFound
		}
		return domain.User{}, err
	}
	if !sess.Valid {
		return domain.User{}, ErrSessionInvalid
	}

	user, err := s.store.Users().GetUserByID(ctx, sess.UserID)
	if err != nil {
		return domain.User{}, s.mapUserErr(err)
	}
	if !user.Active {
		return domain.User{}, ErrUserDeactivated
	}

	if s.validateResume != nil {
		if err := s.validateResume(ctx, user.Sanitized(), sess); err != nil {
			return domain.User{}, fmt.Errorf("%w: %w", ErrNotAuthorized, err)
		}
	}

	s.metrics.sessionResumed.Add(1)
	s.emit(ctx, hooks.Event{
		Type:      hooks.EventSessionResumed,
		UserID:    user.ID,
		SessionID: sess.ID,
	})
	return user.Sanitized(), nil
}

// RefreshTokens rotates the token pair. The access token may be expired but
// must verify and must reference the same session as the refresh token; the
// refresh token is never accepted past its expiry.
func (s *Server) RefreshTokens(ctx context.Context, accessToken, refreshToken string, conn domain.ConnectionInfo) (domain.LoginResult, error) {
	refreshClaims, err := s.tokens.DecodeRefresh(refreshToken)
	if err != nil {
		s.metrics.refreshFailure.Add(1)
		return domain.LoginResult{}, err
	}

	accessClaims, err := s.tokens.DecodeAccess(accessToken, true)
	if err != nil {
		s.metrics.refreshFailure.Add(1)
		return domain.LoginResult{}, err
	}

	if accessClaims.SID == "" || accessClaims.SID != refreshClaims.SID {
		s.metrics.refreshFailure.Add(1)
		return domain.LoginResult{}, ErrTokenMismatch
	}

	var user domain.User
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := tx.Sessions().GetSessionByID(ctx, refreshClaims.SID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if !sess.Valid {
			return ErrSessionInvalid
		}

		if err := tx.Sessions().UpdateSession(ctx, sess.ID, conn); err != nil {
			return err
		}

		// The update never touches the valid flag, but a revocation may
		// have landed between the read and the write. Re-check so a
		// revoked session can never hand out fresh tokens.
		sess, err = tx.Sessions().GetSessionByID(ctx, sess.ID)
		if err != nil {
			return err
		}
		if !sess.Valid {
			return ErrSessionInvalid
		}

		user, err = tx.Users().GetUserByID(ctx, sess.UserID)
		if err != nil {
			return s.mapUserErr(err)
		}
		if !user.Active {
			return ErrUserDeactivated
		}
		return nil
	})
	if err != nil {
		s.metrics.refreshFailure.Add(1)
		s.logger(ctx).WarnContext(ctx, "refresh rejected",
			"session_id", refreshClaims.SID, "err", err)
		return domain.LoginResult{}, err
	}

	access, refresh, err := s.tokens.Pair(refreshClaims.SID, user.ID, refreshClaims.Impersonated)
	if err != nil {
		s.metrics.refreshFailure.Add(1)
		return domain.LoginResult{}, fmt.Errorf("mint tokens: %w", err)
	}

	s.metrics.sessionRefreshed.Add(1)
	s.emit(ctx, hooks.Event{
		Type:      hooks.EventSessionRefreshed,
		UserID:    user.ID,
		SessionID: refreshClaims.SID,
		IP:        conn.IP,
		UserAgent: conn.UserAgent,
	})

	return domain.LoginResult{
		SessionID: refreshClaims.SID,
		User:      user.Sanitized(),
		Tokens:    domain.Tokens{AccessToken: access, RefreshToken: refresh},
	}, nil
}

// Logout revokes the session the access token references. Idempotent:
// logging out twice, or with a token whose session is already gone, is not
// an error. Expired access tokens are accepted; ending a session early is
// always safe.
func (s *Server) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.DecodeAccess(accessToken, true)
	if err != nil {
		return err
	}

	if err := s.store.Sessions().InvalidateSession(ctx, claims.SID); err != nil {
		return err
	}

	s.metrics.logouts.Add(1)
	s.logger(ctx).InfoContext(ctx, "logout", "session_id", claims.SID)
	s.emit(ctx, hooks.Event{
		Type:      hooks.EventLogout,
		UserID:    claims.Subject,
		SessionID: claims.SID,
	})
	return nil
}
