package models

import (
	"time"

	"github.com/google/uuid"
)

// Persisted refresh token record
// The secret half of the bearer value is never stored, only its hash
type RefreshToken struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	TokenHash    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Revoked      bool
	ReplacedByID *uuid.UUID // nil until the token is rotated
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Refresh token as handed out to the client: bearer value is '<id>.<secret>'
type IssuedRefresh struct {
	ID     uuid.UUID
	UserID uuid.UUID
	IssuedToken
}

// Everything an authenticated session is made of
// Issued by AuthService on login, signup and refresh
type Session struct {
	User    User
	Access  IssuedToken
	Refresh IssuedRefresh
	CSRF    string
}
