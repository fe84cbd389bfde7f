package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/stickywall/internal/handlers/middleware"
	"github.com/nkiryanov/stickywall/internal/logger"
	"github.com/nkiryanov/stickywall/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	todoService todoService,
	logger logger.Logger,
) http.Handler {
	withAuth := func(h http.Handler) http.Handler {
		return chain(h,
			middleware.AuthMiddleware(authService),
			middleware.CSRFMiddleware(authService),
		)
	}

	mux := http.NewServeMux()

	mux.Handle("POST /auth/login", handleLogin(authService, logger))
	mux.Handle("POST /auth/signup", handleSignup(authService, logger))
	mux.Handle("POST /auth/refresh", handleRefresh(authService, logger))
	mux.Handle("POST /auth/logout", handleLogout(authService))
	mux.Handle("GET /auth/profile", withAuth(handleProfile()))

	mux.Handle("GET /todos", withAuth(handleListTodos(todoService, logger)))
	mux.Handle("POST /todos", withAuth(handleCreateTodo(todoService, logger)))
	mux.Handle("GET /todos/stats", withAuth(handleTodoStats(todoService, logger)))
	mux.Handle("GET /todos/{id}", withAuth(handleGetTodo(todoService, logger)))
	mux.Handle("PATCH /todos/{id}", withAuth(handleUpdateTodo(todoService, logger)))
	mux.Handle("DELETE /todos/{id}", withAuth(handleDeleteTodo(todoService, logger)))

	handler := chain(mux,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Register user and start the session
	// Has to return apperrors.ErrEmailTaken if email is used already
	Signup(ctx context.Context, email string, password string) (models.Session, error)

	// Login user and start the session
	// Has to return apperrors.ErrInvalidCredentials if email or password is wrong
	// Has to return apperrors.ErrTooManyAttempts if login is throttled
	Login(ctx context.Context, email string, password string) (models.Session, error)

	// Exchange refresh token for new session
	// Any failure has to wrap apperrors.ErrUnauthenticated
	Refresh(ctx context.Context, refresh string) (models.Session, error)

	// Revoke refresh token, never fails
	Logout(ctx context.Context, refresh string)

	// Set session cookies (access, refresh, csrf) to response
	SetSessionCookies(w http.ResponseWriter, session models.Session)

	// Expire session cookies
	ClearSessionCookies(w http.ResponseWriter)

	// Get refresh token from request
	GetRefreshString(r *http.Request) (string, error)

	// Get request and return user if it authenticated or error
	Authenticate(ctx context.Context, r *http.Request) (models.User, error)

	// Double submit check for state changing requests
	CheckCSRF(r *http.Request) error
}

type todoService interface {
	CreateTodo(ctx context.Context, user *models.User, todo models.Todo) (models.Todo, error)
	ListTodos(ctx context.Context, user *models.User) ([]models.Todo, error)
	GetTodo(ctx context.Context, user *models.User, id uuid.UUID) (models.Todo, error)
	UpdateTodo(ctx context.Context, user *models.User, id uuid.UUID, update models.TodoUpdate) (models.Todo, error)
	DeleteTodo(ctx context.Context, user *models.User, id uuid.UUID) error
	Stats(ctx context.Context, user *models.User) (models.TodoStats, error)
}
