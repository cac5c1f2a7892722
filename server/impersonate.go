package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/hooks"
	"github.com/latchkeyhq/latchkey/store"
)

// ImpersonationTarget names the user to impersonate. Exactly one field must
// be set.
type ImpersonationTarget struct {
	UserID   string
	Username string
	Email    string
}

func (t ImpersonationTarget) set() int {
	n := 0
	for _, v := range []string{t.UserID, t.Username, t.Email} {
		if v != "" {
			n++
		}
	}
	return n
}

// Impersonate resumes the acting session, resolves the target, and asks the
// authorization hook. Denial is a result, not an error: Authorized false and
// no session row. Without a configured hook every request is denied.
func (s *Server) Impersonate(ctx context.Context, accessToken string, target ImpersonationTarget, conn domain.ConnectionInfo) (domain.ImpersonationResult, error) {
	if target.set() != 1 {
		return domain.ImpersonationResult{}, fmt.Errorf("%w: exactly one of user id, username, email must be set", ErrUserNotFound)
	}

	actor, err := s.ResumeSession(ctx, accessToken)
	if err != nil {
		return domain.ImpersonationResult{}, err
	}

	targetUser, err := s.resolveTarget(ctx, target)
	if err != nil {
		return domain.ImpersonationResult{}, err
	}

	if s.authorizeImp == nil {
		return domain.ImpersonationResult{Authorized: false}, nil
	}
	allowed, err := s.authorizeImp(ctx, actor, targetUser.Sanitized())
	if err != nil {
		return domain.ImpersonationResult{}, fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}
	if !allowed {
		return domain.ImpersonationResult{Authorized: false}, nil
	}

	if !targetUser.Active {
		return domain.ImpersonationResult{}, ErrUserDeactivated
	}

	result, err := s.createSession(ctx, targetUser, conn, true)
	if err != nil {
		return domain.ImpersonationResult{}, err
	}

	s.metrics.impersonations.Add(1)
	s.logger(ctx).InfoContext(ctx, "impersonation",
		"actor_id", actor.ID, "target_id", targetUser.ID, "session_id", result.SessionID)
	s.emit(ctx, hooks.Event{
		Type:      hooks.EventImpersonation,
		UserID:    targetUser.ID,
		SessionID: result.SessionID,
		IP:        conn.IP,
		UserAgent: conn.UserAgent,
	})

	return domain.ImpersonationResult{
		Authorized: true,
		SessionID:  result.SessionID,
		User:       result.User,
		Tokens:     result.Tokens,
	}, nil
}

func (s *Server) resolveTarget(ctx context.Context, target ImpersonationTarget) (domain.User, error) {
	users := s.store.Users()

	var (
		user domain.User
		err  error
	)
	switch {
	case target.UserID != "":
		user, err = users.GetUserByID(ctx, target.UserID)
	case target.Username != "":
		user, err = users.GetUserByUsername(ctx, target.Username)
	default:
		user, err = users.GetUserByEmail(ctx, target.Email)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}
