package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/stickywall/internal/handlers/render"
	"github.com/nkiryanov/stickywall/internal/handlers/userctx"
	"github.com/nkiryanov/stickywall/internal/models"
)

type authService interface {
	Authenticate(ctx context.Context, r *http.Request) (models.User, error)
}

type csrfChecker interface {
	CheckCSRF(r *http.Request) error
}

// Put authenticated user to request context or respond with 401
func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := as.Authenticate(r.Context(), r)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Reject state changing requests without valid csrf token
func CSRFMiddleware(cc csrfChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
			default:
				if err := cc.CheckCSRF(r); err != nil {
					render.Error(w, render.CSRFErrorType, "CSRF token mismatch", http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
