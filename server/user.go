package server

import (
	"context"
	"errors"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/hooks"
	"github.com/latchkeyhq/latchkey/pkg/idx"
	"github.com/latchkeyhq/latchkey/store"
)

// CreateUser inserts a user directly, for callers that provision accounts
// outside a strategy's Register flow (imports, admin tooling). An empty ID
// gets a fresh ULID; credential sub-documents are never accepted here, they
// belong to strategies.
func (s *Server) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	if user.ID == "" {
		user.ID = idx.New().String()
	}
	user.Services = nil

	if err := s.store.Users().CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}

	created, err := s.store.Users().GetUserByID(ctx, user.ID)
	if err != nil {
		return domain.User{}, s.mapUserErr(err)
	}

	s.emit(ctx, hooks.Event{Type: hooks.EventUserCreated, UserID: created.ID})
	return created.Sanitized(), nil
}

// FindUserByID is a sanitized passthrough read.
func (s *Server) FindUserByID(ctx context.Context, id string) (domain.User, error) {
	user, err := s.store.Users().GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, s.mapUserErr(err)
	}
	return user.Sanitized(), nil
}

// DeactivateUser blocks the user from new logins and session resumption.
// Existing session rows stay; resumption rejects them while the flag is off.
func (s *Server) DeactivateUser(ctx context.Context, id string) error {
	if err := s.store.Users().SetActive(ctx, id, false); err != nil {
		return s.mapUserErr(err)
	}
	s.emit(ctx, hooks.Event{Type: hooks.EventUserDeactivated, UserID: id})
	return nil
}

// ActivateUser lifts a deactivation.
func (s *Server) ActivateUser(ctx context.Context, id string) error {
	if err := s.store.Users().SetActive(ctx, id, true); err != nil {
		return s.mapUserErr(err)
	}
	s.emit(ctx, hooks.Event{Type: hooks.EventUserActivated, UserID: id})
	return nil
}

func (s *Server) mapUserErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
