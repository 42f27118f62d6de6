package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fortresslabs/identity/internal/ids"
)

const defaultTokenTTL = 24 * time.Hour

const maxNameLength = 255

// Service owns credential verification and bearer token lifecycle:
// issue, resolve, rotate, revoke. Every operation takes the acting
// principal explicitly; the service never reads ambient request state.
type Service struct {
	store Store
	now   func() time.Time

	tokenTTL             time.Duration
	rotateOnRefresh      bool
	rotateOnLogin        bool
	requireVerifiedEmail bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenTTL configures the token validity window.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: token ttl must be positive")
		}
		s.tokenTTL = ttl
		return nil
	}
}

// WithRefreshRotation controls whether refresh revokes the presented
// token atomically with issuing its replacement. Enabled by default.
func WithRefreshRotation(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.rotateOnRefresh = enabled
		return nil
	}
}

// WithLoginRotation controls whether a fresh login revokes prior
// sessions. Disabled by default, which permits true multi-device
// sessions.
func WithLoginRotation(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.rotateOnLogin = enabled
		return nil
	}
}

// WithRequireVerifiedEmail gates login on a completed email
// verification. Disabled by default.
func WithRequireVerifiedEmail(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.requireVerifiedEmail = enabled
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:           store,
		now:             time.Now,
		tokenTTL:        defaultTokenTTL,
		rotateOnRefresh: true,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// TokenTTL returns the configured validity window.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// RegisterInput is the payload accepted by Register.
type RegisterInput struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// Register creates a user, grants the default role and emits
// user.registered. A duplicate email fails with ErrConflict. The new
// user is not logged in.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxNameLength {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if in.Password != in.PasswordConfirmation {
		return nil, fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	if role, err := s.store.Roles().FindByName(ctx, RoleUser); err == nil {
		if err := s.store.Roles().Attach(ctx, user.ID, role.ID); err != nil {
			return nil, err
		}
	}
	s.audit(ctx, user.ID, EventUserRegistered, nil, meta)
	return user, nil
}

// Login verifies credentials and issues a fresh token. Unknown email
// and wrong password take the same hashing cost path, return the same
// error and emit the same-shaped failed-login event, so neither the
// response nor its timing reveals whether the account exists.
func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (*User, string, *Token, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		s.audit(ctx, "", EventUserLoginFailed, map[string]any{"email": email}, meta)
		return nil, "", nil, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = VerifyPassword(dummyPasswordHash, password)
			s.audit(ctx, "", EventUserLoginFailed, map[string]any{"email": email}, meta)
			return nil, "", nil, ErrInvalidCredentials
		}
		return nil, "", nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.audit(ctx, "", EventUserLoginFailed, map[string]any{"email": email}, meta)
		return nil, "", nil, ErrInvalidCredentials
	}
	if s.requireVerifiedEmail && !user.EmailVerified() {
		s.audit(ctx, "", EventUserLoginFailed, map[string]any{"email": email}, meta)
		return nil, "", nil, ErrInvalidCredentials
	}
	if s.rotateOnLogin {
		if _, err := s.store.Tokens().RevokeAllForUser(ctx, user.ID); err != nil {
			return nil, "", nil, err
		}
	}
	raw, token, err := s.Issue(ctx, user.ID)
	if err != nil {
		return nil, "", nil, err
	}
	s.audit(ctx, user.ID, EventUserLogin, nil, meta)
	return user, raw, token, nil
}

// Issue mints a token bound to the user. Prior tokens are untouched.
func (s *Service) Issue(ctx context.Context, userID string) (string, *Token, error) {
	raw, token, err := mintToken(userID, s.now().UTC(), s.tokenTTL)
	if err != nil {
		return "", nil, err
	}
	if err := s.store.Tokens().Create(ctx, token); err != nil {
		return "", nil, err
	}
	return raw, token, nil
}

// Resolve maps a raw bearer token to its owner. Unknown, revoked and
// expired tokens are indistinguishable to the caller.
func (s *Service) Resolve(ctx context.Context, raw string) (*User, error) {
	id, secret, err := splitToken(raw)
	if err != nil {
		verifyTokenSecret(dummySecretHash, raw)
		return nil, ErrInvalidToken
	}
	token, err := s.store.Tokens().Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			verifyTokenSecret(dummySecretHash, secret)
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	ok := verifyTokenSecret(token.SecretHash, secret)
	if !ok || token.Revoked || token.Expired(s.now().UTC()) {
		return nil, ErrInvalidToken
	}
	user, err := s.store.Users().Find(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// Refresh issues a replacement token. Under rotation (the default) the
// presented token is revoked in the same store transaction that
// persists the replacement, so at no instant do both resolve, and at no
// instant does neither.
func (s *Service) Refresh(ctx context.Context, user *User, presented string, meta RequestMeta) (string, *Token, error) {
	if user == nil {
		return "", nil, ErrInvalidToken
	}
	if !s.rotateOnRefresh {
		raw, token, err := s.Issue(ctx, user.ID)
		if err != nil {
			return "", nil, err
		}
		s.audit(ctx, user.ID, EventTokenRefreshed, nil, meta)
		return raw, token, nil
	}

	prevID, _, err := splitToken(presented)
	if err != nil {
		return "", nil, ErrInvalidToken
	}
	raw, next, err := mintToken(user.ID, s.now().UTC(), s.tokenTTL)
	if err != nil {
		return "", nil, err
	}
	if err := s.store.Tokens().Rotate(ctx, prevID, next); err != nil {
		return "", nil, err
	}
	s.audit(ctx, user.ID, EventTokenRefreshed, map[string]any{"rotated": true}, meta)
	return raw, next, nil
}

// RevokeAll revokes every outstanding token of the user and returns the
// count affected. Zero is a valid result, not an error.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	return s.store.Tokens().RevokeAllForUser(ctx, userID)
}

// Logout revokes every session of the user, emits user.logout and
// returns how many tokens were affected.
func (s *Service) Logout(ctx context.Context, user *User, meta RequestMeta) (int, error) {
	if user == nil {
		return 0, ErrInvalidToken
	}
	count, err := s.RevokeAll(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	s.audit(ctx, user.ID, EventUserLogout, nil, meta)
	return count, nil
}

// ChangePassword verifies the current secret, stores the new hash and
// unconditionally kills every outstanding session anywhere.
func (s *Service) ChangePassword(ctx context.Context, user *User, current, next string, meta RequestMeta) error {
	if user == nil {
		return ErrInvalidToken
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if _, err := s.RevokeAll(ctx, user.ID); err != nil {
		return err
	}
	s.audit(ctx, user.ID, EventUserPasswordChanged, nil, meta)
	return nil
}

// VerifyEmail marks the user's email verified. Idempotent.
func (s *Service) VerifyEmail(ctx context.Context, user *User, meta RequestMeta) error {
	if user == nil {
		return ErrInvalidToken
	}
	if user.EmailVerified() {
		return nil
	}
	at := s.now().UTC()
	if err := s.store.Users().SetEmailVerified(ctx, user.ID, at); err != nil {
		return err
	}
	user.EmailVerifiedAt = &at
	s.audit(ctx, user.ID, EventUserEmailVerified, nil, meta)
	return nil
}

// audit appends an event to the durable sink. Audit is a write-only
// side effect: failures never fail the operation that triggered them.
func (s *Service) audit(ctx context.Context, userID, action string, details map[string]any, meta RequestMeta) {
	_ = s.store.Audit().Append(ctx, &AuditEvent{
		ID:        ids.New(),
		UserID:    userID,
		Action:    action,
		Details:   details,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: s.now().UTC(),
	})
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || len(email) > maxNameLength || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}
