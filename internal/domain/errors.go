package domain

import "errors"

var (
	// ErrInvalidCredentials covers unknown usernames, wrong passwords and inactive
	// accounts alike so callers cannot tell which one happened.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrBadRequest         = errors.New("bad request")
	ErrForbidden          = errors.New("forbidden")
)
