package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// All mutation entry points are explicit; queries never mutate.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	Tokens() TokenStore
	Audit() AuditStore
}

// ListUsersParams filters and paginates user listings.
type ListUsersParams struct {
	Search  string
	Role    string
	Page    int
	PerPage int
}

// UserPage is one page of a user listing.
type UserPage struct {
	Users   []*User `json:"users"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}

// UserStore manages user records.
type UserStore interface {
	// Create fails with ErrConflict when the email is already taken.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, params ListUsersParams) (UserPage, error)
	Update(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetEmailVerified(ctx context.Context, userID string, at time.Time) error
	Delete(ctx context.Context, userID string) error
}

// RoleStore manages roles and user-role grants. Attach and Detach are
// idempotent: attaching a held role or detaching an unheld one is a
// no-op success.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Attach(ctx context.Context, userID, roleID string) error
	Detach(ctx context.Context, userID, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]*Role, error)
}

// PermissionStore manages the permission catalog and role-permission
// grants, with the same idempotency contract as RoleStore.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	FindByName(ctx context.Context, name string) (*Permission, error)
	Attach(ctx context.Context, roleID, permissionID string) error
	Detach(ctx context.Context, roleID, permissionID string) error
	ForRole(ctx context.Context, roleID string) ([]Permission, error)
}

// TokenStore manages bearer token lifecycle. The store is the single
// serialization point: Rotate and RevokeAllForUser are atomic
// read-modify-write operations.
type TokenStore interface {
	Create(ctx context.Context, t *Token) error
	Find(ctx context.Context, id string) (*Token, error)
	// Rotate persists next and revokes the token identified by prevID in
	// one atomic step. The previous token must still be un-revoked and
	// belong to next.UserID; otherwise the whole rotation fails with
	// ErrInvalidToken and next is not persisted. Two concurrent rotations
	// of the same token therefore mint exactly one replacement.
	Rotate(ctx context.Context, prevID string, next *Token) error
	// RevokeAllForUser marks every non-revoked token of the user revoked
	// and returns the count affected. Zero is a valid result.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
	// DeleteExpired removes tokens whose expiration precedes before.
	// Idempotent and safe to run concurrently with live traffic.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// AuditStore appends immutable events. Nothing in the core reads them back.
type AuditStore interface {
	Append(ctx context.Context, e *AuditEvent) error
}
