package auth

import "context"

// Action identifies an operation gated by the authorization engine.
type Action string

const (
	ActionListUsers   Action = "users.list"
	ActionViewUser    Action = "users.view"
	ActionUpdateUser  Action = "users.update"
	ActionDeleteUser  Action = "users.delete"
	ActionAssignRoles Action = "users.assign_roles"
)

// Engine evaluates whether a principal may perform an action on a
// target. Policy reads the role/permission graph as plain data and
// re-reads current grants on every decision, so a role revoked
// mid-session takes effect on the next check.
type Engine struct {
	store Store
}

// NewEngine constructs an Engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// HasRole reports whether the user currently holds the named role.
func (e *Engine) HasRole(ctx context.Context, userID, roleName string) (bool, error) {
	names, err := e.roleNames(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := names[roleName]
	return ok, nil
}

// HasAnyRole reports whether the user holds at least one of the named
// roles.
func (e *Engine) HasAnyRole(ctx context.Context, userID string, roleNames ...string) (bool, error) {
	held, err := e.roleNames(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, name := range roleNames {
		if _, ok := held[name]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllRoles reports whether the user holds every one of the named
// roles.
func (e *Engine) HasAllRoles(ctx context.Context, userID string, roleNames ...string) (bool, error) {
	held, err := e.roleNames(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, name := range roleNames {
		if _, ok := held[name]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// Permissions returns the user's effective permission set: the union of
// the permissions of every role currently attached. It is always
// recomputed from current grants, never cached.
func (e *Engine) Permissions(ctx context.Context, userID string) ([]string, error) {
	roles, err := e.store.Roles().RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var result []string
	for _, role := range roles {
		perms, err := e.store.Permissions().ForRole(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			result = append(result, p.Name)
		}
	}
	return result, nil
}

// HasPermission reports whether any role the user holds carries the
// named permission.
func (e *Engine) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	perms, err := e.Permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

// IsAdmin is sugar for HasRole(userID, "admin").
func (e *Engine) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return e.HasRole(ctx, userID, RoleAdmin)
}

// Authorize gates an action against the decision table. No action is
// allowed by default; unknown actions are denied.
//
//	list users    admin only
//	view user     self or admin
//	update user   self or admin
//	delete user   admin, never self
//	assign roles  admin, never self
func (e *Engine) Authorize(ctx context.Context, actorID string, action Action, targetID string) error {
	switch action {
	case ActionListUsers:
		return e.requireAdmin(ctx, actorID)
	case ActionViewUser, ActionUpdateUser:
		if actorID != "" && actorID == targetID {
			return nil
		}
		return e.requireAdmin(ctx, actorID)
	case ActionDeleteUser, ActionAssignRoles:
		if err := e.requireAdmin(ctx, actorID); err != nil {
			return err
		}
		if actorID == targetID {
			return ErrSelfAction
		}
		return nil
	default:
		return ErrForbidden
	}
}

func (e *Engine) requireAdmin(ctx context.Context, userID string) error {
	admin, err := e.IsAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !admin {
		return ErrForbidden
	}
	return nil
}

func (e *Engine) roleNames(ctx context.Context, userID string) (map[string]struct{}, error) {
	roles, err := e.store.Roles().RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		names[role.Name] = struct{}{}
	}
	return names, nil
}
