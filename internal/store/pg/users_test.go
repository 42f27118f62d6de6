package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fortresslabs/identity/internal/auth"
)

func TestCreateUserMapsUniqueViolationToConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "users_email_key"})

	store := NewStore(db)
	now := time.Now().UTC()
	err = store.Users().Create(context.Background(), &auth.User{
		ID:        "user-1",
		Name:      "Alice",
		Email:     "alice@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAttachRoleMapsForeignKeyToNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into role_user").
		WithArgs("ghost", "role-1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	store := NewStore(db)
	if err := store.Roles().Attach(context.Background(), "ghost", "role-1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListUsersFiltersAndPaginates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`select count\(\*\) from users`).
		WithArgs("%ali%", "admin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("select u.id, u.name, u.email").
		WithArgs("%ali%", "admin", 15, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "email", "password_hash", "email_verified_at", "created_at", "updated_at",
		}).AddRow("user-1", "Alice", "alice@example.com", "hash", nil, now, now))

	store := NewStore(db)
	page, err := store.Users().List(context.Background(), auth.ListUsersParams{
		Search:  "Ali",
		Role:    "admin",
		Page:    1,
		PerPage: 15,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 1 || len(page.Users) != 1 {
		t.Fatalf("unexpected page: total=%d users=%d", page.Total, len(page.Users))
	}
	if page.Users[0].Email != "alice@example.com" {
		t.Fatalf("unexpected user %v", page.Users[0])
	}
	if page.Users[0].EmailVerifiedAt != nil {
		t.Fatal("null verified_at scanned as a value")
	}
}

func TestUpdateMissingUserIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update users").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db)
	now := time.Now().UTC()
	err = store.Users().Update(context.Background(), &auth.User{ID: "ghost", Name: "G", Email: "g@example.com", UpdatedAt: now})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
