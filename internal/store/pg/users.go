package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fortresslabs/identity/internal/auth"
)

type userStore struct{ db *sql.DB }

const userColumns = `id, name, email, password_hash, email_verified_at, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, name, email, password_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return mapWriteError(err)
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`, email)
	return scanUser(row)
}

func (s *userStore) List(ctx context.Context, params auth.ListUsersParams) (auth.UserPage, error) {
	var (
		conds []string
		args  []any
	)
	if params.Search != "" {
		args = append(args, "%"+strings.ToLower(params.Search)+"%")
		idx := len(args)
		conds = append(conds, fmt.Sprintf("(lower(u.name) like $%d or u.email like $%d)", idx, idx))
	}
	if params.Role != "" {
		args = append(args, params.Role)
		conds = append(conds, fmt.Sprintf(
			"exists (select 1 from role_user ru join roles r on r.id = ru.role_id where ru.user_id = u.id and r.name = $%d)",
			len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " where " + strings.Join(conds, " and ")
	}

	page := auth.UserPage{Page: params.Page, PerPage: params.PerPage}
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from users u`+where, args...,
	).Scan(&page.Total); err != nil {
		return auth.UserPage{}, err
	}

	args = append(args, params.PerPage, (params.Page-1)*params.PerPage)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`select u.id, u.name, u.email, u.password_hash, u.email_verified_at, u.created_at, u.updated_at
		 from users u%s order by u.created_at, u.id limit $%d offset $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return auth.UserPage{}, err
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return auth.UserPage{}, err
		}
		page.Users = append(page.Users, u)
	}
	return page, rows.Err()
}

func (s *userStore) Update(ctx context.Context, u *auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set name = $2, email = $3, email_verified_at = $4, updated_at = $5
		where id = $1
	`, u.ID, u.Name, u.Email, u.EmailVerifiedAt, u.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res, auth.ErrNotFound)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash = $2, updated_at = now() where id = $1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res, auth.ErrNotFound)
}

func (s *userStore) SetEmailVerified(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set email_verified_at = $2, updated_at = $2 where id = $1`,
		userID, at)
	if err != nil {
		return err
	}
	return requireRow(res, auth.ErrNotFound)
}

func (s *userStore) Delete(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, userID)
	if err != nil {
		return err
	}
	return requireRow(res, auth.ErrNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u        auth.User
		verified sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &verified, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if verified.Valid {
		t := verified.Time
		u.EmailVerifiedAt = &t
	}
	return &u, nil
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
