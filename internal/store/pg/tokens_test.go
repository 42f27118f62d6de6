package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fortresslabs/identity/internal/auth"
)

func testToken(userID string) *auth.Token {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &auth.Token{
		ID:         "01TOKEN000000000000000NEXT",
		UserID:     userID,
		SecretHash: "deadbeef",
		ExpiresAt:  now.Add(24 * time.Hour),
		CreatedAt:  now,
	}
}

func TestRotateCommitsInsertAndRevoke(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	next := testToken("user-1")
	mock.ExpectBegin()
	mock.ExpectExec("insert into tokens").
		WithArgs(next.ID, next.UserID, next.SecretHash, next.ExpiresAt, false, next.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update tokens set revoked = true").
		WithArgs("prev-id", next.UserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewStore(db)
	if err := store.Tokens().Rotate(context.Background(), "prev-id", next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRotateRollsBackWhenPreviousAlreadyRevoked(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	next := testToken("user-1")
	mock.ExpectBegin()
	mock.ExpectExec("insert into tokens").
		WithArgs(next.ID, next.UserID, next.SecretHash, next.ExpiresAt, false, next.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The conditional update matches nothing: the previous token is
	// gone, revoked, or belongs to someone else.
	mock.ExpectExec("update tokens set revoked = true").
		WithArgs("prev-id", next.UserID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := NewStore(db)
	if err := store.Tokens().Rotate(context.Background(), "prev-id", next); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRevokeAllForUserCountsAffectedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update tokens set revoked = true where user_id").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewStore(db)
	n, err := store.Tokens().RevokeAllForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
}

func TestDeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("delete from tokens where expires_at").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	store := NewStore(db)
	n, err := store.Tokens().DeleteExpired(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
}

func TestFindUnknownTokenIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, user_id, secret_hash, expires_at, revoked, created_at").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "secret_hash", "expires_at", "revoked", "created_at"}))

	store := NewStore(db)
	if _, err := store.Tokens().Find(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
