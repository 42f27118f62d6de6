package auth

import "time"

// User is a principal that can authenticate and act on resources.
// IDs are ULIDs: opaque and non-sequential so account identifiers
// cannot be enumerated.
type User struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// EmailVerified reports whether the user completed email verification.
func (u *User) EmailVerified() bool {
	return u != nil && u.EmailVerifiedAt != nil
}

// Role groups permissions. Roles are reference data mutated by
// administrative action only.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability, granted only through roles.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Token is the persisted half of a bearer credential. The wire form is
// "<id>.<secret>"; only the sha256 of the secret is stored. Revocation
// sets the flag rather than deleting the row, and a revoked token never
// becomes valid again.
type Token struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SecretHash string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	CreatedAt  time.Time `json:"created_at"`
}

// Expired reports whether the token is past its validity window.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// AuditEvent is an append-only record of a security-relevant action.
// UserID is empty for anonymous or failed actions.
type AuditEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// RequestMeta carries request provenance into the core. It is passed
// explicitly so the core never reads ambient request state.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// Audit action vocabulary. Closed set; the boundary layer never invents
// new tags.
const (
	EventUserRegistered      = "user.registered"
	EventUserLogin           = "user.login"
	EventUserLoginFailed     = "user.login_failed"
	EventUserLogout          = "user.logout"
	EventUserPasswordChanged = "user.password_changed"
	EventUserEmailVerified   = "user.email_verified"
	EventTokenRefreshed      = "user.token_refreshed"
	EventUserUpdated         = "user.updated"
	EventUserDeleted         = "user.deleted"
	EventRoleGranted         = "user.role_granted"
	EventRoleRevoked         = "user.role_revoked"
	EventUsersListed         = "users.list"
	EventUserViewed          = "user.view"
)
