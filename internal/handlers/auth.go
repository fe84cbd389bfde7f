package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/stickywall/internal/apperrors"
	"github.com/nkiryanov/stickywall/internal/handlers/render"
	"github.com/nkiryanov/stickywall/internal/logger"
)

type sessionResponse struct {
	OK   bool   `json:"ok"`
	CSRF string `json:"csrf,omitempty"`
}

func handleLogin(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := authService.Login(r.Context(), data.Email, data.Password)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrInvalidCredentials):
				render.ServiceError(w, "Invalid email or password", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrTooManyAttempts):
				render.ServiceError(w, "Too many login attempts, try again later", http.StatusTooManyRequests)
			default:
				logger.Error("Login failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		authService.SetSessionCookies(w, session)
		render.JSON(w, sessionResponse{OK: true, CSRF: session.CSRF})
	})
}

func handleSignup(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=8,max=256"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := authService.Signup(r.Context(), data.Email, data.Password)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrEmailTaken):
				render.ServiceError(w, "Email already taken", http.StatusConflict)
			default:
				logger.Error("Signup failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		authService.SetSessionCookies(w, session)
		render.JSON(w, sessionResponse{OK: true, CSRF: session.CSRF})
	})
}

// Any refresh failure ends the session: cookies are cleared
func handleRefresh(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := authService.GetRefreshString(r)
		if err != nil {
			authService.ClearSessionCookies(w)
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		session, err := authService.Refresh(r.Context(), refresh)
		if err != nil {
			if !errors.Is(err, apperrors.ErrUnauthenticated) {
				logger.Error("Refresh failed", "error", err)
			}
			authService.ClearSessionCookies(w)
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		authService.SetSessionCookies(w, session)
		render.JSON(w, sessionResponse{OK: true, CSRF: session.CSRF})
	})
}

func handleLogout(authService authService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refresh, err := authService.GetRefreshString(r); err == nil {
			authService.Logout(r.Context(), refresh)
		}

		authService.ClearSessionCookies(w)
		render.JSON(w, sessionResponse{OK: true})
	})
}
