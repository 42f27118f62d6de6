package auth

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultPerPage = 15
	maxPerPage     = 100
)

// ListUsers returns a page of users filtered by the optional search and
// role parameters. Page size is clamped to 100.
func (s *Service) ListUsers(ctx context.Context, params ListUsersParams) (UserPage, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PerPage < 1 {
		params.PerPage = defaultPerPage
	}
	if params.PerPage > maxPerPage {
		params.PerPage = maxPerPage
	}
	params.Search = strings.TrimSpace(params.Search)
	params.Role = strings.TrimSpace(params.Role)
	return s.store.Users().List(ctx, params)
}

// GetUser loads one user by id.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Users().Find(ctx, id)
}

// UpdateUserInput carries optional profile mutations.
type UpdateUserInput struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// UpdateUser mutates a user's profile fields. A changed email resets
// the verification state; a taken email fails with ErrConflict.
func (s *Service) UpdateUser(ctx context.Context, actorID, targetID string, in UpdateUserInput, meta RequestMeta) (*User, error) {
	user, err := s.store.Users().Find(ctx, targetID)
	if err != nil {
		return nil, err
	}
	changed := false
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || len(name) > maxNameLength {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		if name != user.Name {
			user.Name = name
			changed = true
		}
	}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		if email != user.Email {
			user.Email = email
			user.EmailVerifiedAt = nil
			changed = true
		}
	}
	if !changed {
		return user, nil
	}
	user.UpdatedAt = s.now().UTC()
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, EventUserUpdated, map[string]any{"user_id": user.ID}, meta)
	return user, nil
}

// DeleteUser removes a user. All of the target's tokens are revoked
// before the record goes away, so outstanding sessions die immediately.
// Authorization (admin, never self) is the engine's decision; this
// method only performs the mechanics.
func (s *Service) DeleteUser(ctx context.Context, actorID, targetID string, meta RequestMeta) error {
	user, err := s.store.Users().Find(ctx, targetID)
	if err != nil {
		return err
	}
	if _, err := s.RevokeAll(ctx, user.ID); err != nil {
		return err
	}
	if err := s.store.Users().Delete(ctx, user.ID); err != nil {
		return err
	}
	s.audit(ctx, actorID, EventUserDeleted, map[string]any{"user_id": user.ID, "email": user.Email}, meta)
	return nil
}

// RecordAccess emits a read-path audit event (user viewed, users
// listed). Reads are never blocked on audit.
func (s *Service) RecordAccess(ctx context.Context, actorID, action string, details map[string]any, meta RequestMeta) {
	s.audit(ctx, actorID, action, details, meta)
}
