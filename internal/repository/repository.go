package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/stickywall/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with the email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, email string, hashedPassword string) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Create token in repository
	Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token if it exists, even revoked or expired
	// If not exists must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, id uuid.UUID) (models.RefreshToken, error)

	// Same as Get but locks the row until the end of the surrounding transaction
	GetForUpdate(ctx context.Context, id uuid.UUID) (models.RefreshToken, error)

	// Mark token revoked and point it to its successor
	// Has to touch only not revoked token, otherwise must return apperrors.ErrRefreshTokenIsUsed
	MarkReplaced(ctx context.Context, id uuid.UUID, replacedByID uuid.UUID) error

	// Revoke single token. No-op if token not exists or revoked already
	Revoke(ctx context.Context, id uuid.UUID) error

	// Revoke every token of the user. Returns number of tokens revoked by the call
	RevokeForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// Delete tokens expired before the moment. Returns number of deleted tokens
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Todo repository interface
type TodoRepo interface {
	CreateTodo(ctx context.Context, todo models.Todo) (models.Todo, error)

	// Get todo by id regardless of the owner
	// If not found must return apperrors.ErrTodoNotFound
	GetTodo(ctx context.Context, id uuid.UUID) (models.Todo, error)

	// List user todos, newest first
	ListTodos(ctx context.Context, userID uuid.UUID) ([]models.Todo, error)

	// Apply not nil fields of update
	// If not found must return apperrors.ErrTodoNotFound
	UpdateTodo(ctx context.Context, id uuid.UUID, update models.TodoUpdate) (models.Todo, error)

	// If not found must return apperrors.ErrTodoNotFound
	DeleteTodo(ctx context.Context, id uuid.UUID) error

	// Count user todos, days start at 'dayStart' and last 24 hours
	Stats(ctx context.Context, userID uuid.UUID, dayStart time.Time) (models.TodoStats, error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	Todo() TodoRepo

	// Run fn in transaction
	// Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
