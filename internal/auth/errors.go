package auth

import "errors"

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	// The two cases are never distinguished.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken covers unknown, revoked and expired tokens uniformly.
	ErrInvalidToken = errors.New("auth: invalid token")

	ErrForbidden    = errors.New("auth: forbidden")
	ErrSelfAction   = errors.New("auth: action not permitted on own account")
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
)
