package apperrors

import (
	"errors"
)

var (
	ErrConfig = errors.New("invalid configuration")

	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many login attempts")

	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidToken    = errors.New("invalid token")
	ErrCSRFMismatch    = errors.New("csrf token mismatch")

	ErrMalformedToken       = errors.New("malformed refresh token")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenIsUsed   = errors.New("refresh token is used")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")
	ErrRefreshTokenReused   = errors.New("refresh token reuse detected")

	ErrTodoNotFound  = errors.New("todo not found")
	ErrTodoForbidden = errors.New("todo belongs to another user")
)

// Email taken is the same condition as user exists, named after what signup reports
var ErrEmailTaken = ErrUserAlreadyExists
