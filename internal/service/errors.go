package service

import "errors"

// Errors returned by the authentication and authorization services. Handlers
// map them to HTTP statuses; unknown errors become internal errors.
var (
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords so callers cannot tell the two apart.
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountBlocked      = errors.New("account blocked")
	ErrInvalidMFAToken     = errors.New("invalid mfa token")
	ErrMFAAlreadyEnrolled  = errors.New("mfa already enrolled")
	ErrForbidden           = errors.New("forbidden")
	ErrTooManyAttempts     = errors.New("too many attempts")
	ErrAlreadyBootstrapped = errors.New("main superadmin already exists")
	ErrInvalidInput        = errors.New("invalid input")
)
