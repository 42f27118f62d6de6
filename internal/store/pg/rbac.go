package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fortresslabs/identity/internal/auth"
	"github.com/fortresslabs/identity/internal/ids"
)

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, description, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
	`, role.ID, role.Name, role.Description, role.CreatedAt, role.UpdatedAt)
	return mapWriteError(err)
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	var role auth.Role
	err := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at, updated_at from roles where name = $1`,
		name,
	).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, description, created_at, updated_at from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

// Attach is idempotent: re-attaching a held role is a no-op.
func (s *roleStore) Attach(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_user (user_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, roleID)
	return mapWriteError(err)
}

// Detach is idempotent: detaching an unheld role is a no-op.
func (s *roleStore) Detach(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from role_user where user_id = $1 and role_id = $2`, userID, roleID)
	return err
}

func (s *roleStore) RolesForUser(ctx context.Context, userID string) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at, r.updated_at
		from roles r
		join role_user ru on ru.role_id = r.id
		where ru.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

// Permission store ---------------------------------------------------------

type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx, `
			insert into permissions (id, name, description)
			values ($1, $2, $3)
			on conflict (name) do nothing
		`, p.ID, p.Name, p.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) FindByName(ctx context.Context, name string) (*auth.Permission, error) {
	var p auth.Permission
	err := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at from permissions where name = $1`,
		name,
	).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *permissionStore) Attach(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permission_role (role_id, permission_id)
		values ($1, $2)
		on conflict do nothing
	`, roleID, permissionID)
	return mapWriteError(err)
}

func (s *permissionStore) Detach(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from permission_role where role_id = $1 and permission_id = $2`,
		roleID, permissionID)
	return err
}

func (s *permissionStore) ForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.description, p.created_at
		from permissions p
		join permission_role pr on pr.permission_id = p.id
		where pr.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
