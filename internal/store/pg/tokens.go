package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fortresslabs/identity/internal/auth"
)

type tokenStore struct{ db *sql.DB }

func (s *tokenStore) Create(ctx context.Context, t *auth.Token) error {
	_, err := s.db.ExecContext(ctx, `
		insert into tokens (id, user_id, secret_hash, expires_at, revoked, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, t.SecretHash, t.ExpiresAt, t.Revoked, t.CreatedAt)
	return mapWriteError(err)
}

func (s *tokenStore) Find(ctx context.Context, id string) (*auth.Token, error) {
	var t auth.Token
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, secret_hash, expires_at, revoked, created_at
		from tokens where id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.SecretHash, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Rotate inserts the replacement and revokes the previous token in one
// transaction. The conditional update is the serialization point: of
// two concurrent rotations of the same token exactly one sees
// revoked = false, the other rolls back its replacement and fails.
func (s *tokenStore) Rotate(ctx context.Context, prevID string, next *auth.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into tokens (id, user_id, secret_hash, expires_at, revoked, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, next.ID, next.UserID, next.SecretHash, next.ExpiresAt, next.Revoked, next.CreatedAt); err != nil {
		return mapWriteError(err)
	}

	res, err := tx.ExecContext(ctx, `
		update tokens set revoked = true
		where id = $1 and user_id = $2 and revoked = false
	`, prevID, next.UserID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrInvalidToken
	}
	return tx.Commit()
}

func (s *tokenStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update tokens set revoked = true where user_id = $1 and revoked = false`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *tokenStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
