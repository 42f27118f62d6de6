package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fortresslabs/identity/internal/ids"
)

// Built-in role names.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Built-in permission names, mirroring the actions the engine gates.
const (
	PermUsersList   = "users.list"
	PermUsersView   = "users.view"
	PermUsersUpdate = "users.update"
	PermUsersDelete = "users.delete"
	PermUsersAssign = "users.assign_roles"
)

// BuiltinPermissions is the seed permission catalog.
var BuiltinPermissions = []Permission{
	{Name: PermUsersList, Description: "List user accounts"},
	{Name: PermUsersView, Description: "View a user account"},
	{Name: PermUsersUpdate, Description: "Update a user account"},
	{Name: PermUsersDelete, Description: "Delete a user account"},
	{Name: PermUsersAssign, Description: "Assign roles to a user"},
}

// Graph manages the many-to-many role/permission relations. All grant
// and revoke operations are idempotent: attaching an already-held role
// is a no-op success, and so is detaching an unheld one.
type Graph struct {
	store Store
	now   func() time.Time
}

// NewGraph constructs a Graph over the given store.
func NewGraph(store Store) *Graph {
	return &Graph{store: store, now: time.Now}
}

// EnsureBuiltins seeds the built-in permissions and the admin/user
// roles, and grants every built-in permission to admin. Safe to call on
// every startup.
func (g *Graph) EnsureBuiltins(ctx context.Context) error {
	if err := g.store.Permissions().Ensure(ctx, BuiltinPermissions); err != nil {
		return err
	}
	admin, err := g.ensureRole(ctx, RoleAdmin, "Full administrative access")
	if err != nil {
		return err
	}
	if _, err := g.ensureRole(ctx, RoleUser, "Standard account"); err != nil {
		return err
	}
	for _, p := range BuiltinPermissions {
		if err := g.GrantPermission(ctx, admin.Name, p.Name); err != nil {
			return err
		}
	}
	return nil
}

// GrantRole attaches the named role to the user. Fails with ErrNotFound
// when the role or the user does not exist.
func (g *Graph) GrantRole(ctx context.Context, userID, roleName string) error {
	role, err := g.store.Roles().FindByName(ctx, roleName)
	if err != nil {
		return err
	}
	if _, err := g.store.Users().Find(ctx, userID); err != nil {
		return err
	}
	return g.store.Roles().Attach(ctx, userID, role.ID)
}

// RevokeRole detaches the named role from the user.
func (g *Graph) RevokeRole(ctx context.Context, userID, roleName string) error {
	role, err := g.store.Roles().FindByName(ctx, roleName)
	if err != nil {
		return err
	}
	if _, err := g.store.Users().Find(ctx, userID); err != nil {
		return err
	}
	return g.store.Roles().Detach(ctx, userID, role.ID)
}

// GrantPermission attaches the named permission to the role.
func (g *Graph) GrantPermission(ctx context.Context, roleName, permission string) error {
	role, err := g.store.Roles().FindByName(ctx, roleName)
	if err != nil {
		return err
	}
	perm, err := g.store.Permissions().FindByName(ctx, permission)
	if err != nil {
		return err
	}
	return g.store.Permissions().Attach(ctx, role.ID, perm.ID)
}

// RevokePermission detaches the named permission from the role.
func (g *Graph) RevokePermission(ctx context.Context, roleName, permission string) error {
	role, err := g.store.Roles().FindByName(ctx, roleName)
	if err != nil {
		return err
	}
	perm, err := g.store.Permissions().FindByName(ctx, permission)
	if err != nil {
		return err
	}
	return g.store.Permissions().Detach(ctx, role.ID, perm.ID)
}

// RolesForUser returns the roles currently attached to the user.
func (g *Graph) RolesForUser(ctx context.Context, userID string) ([]*Role, error) {
	return g.store.Roles().RolesForUser(ctx, userID)
}

func (g *Graph) ensureRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role, err := g.store.Roles().FindByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := g.now().UTC()
	role = &Role{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.store.Roles().Create(ctx, role); err != nil {
		// Lost a startup race with another instance.
		if errors.Is(err, ErrConflict) {
			return g.store.Roles().FindByName(ctx, name)
		}
		return nil, err
	}
	return role, nil
}
