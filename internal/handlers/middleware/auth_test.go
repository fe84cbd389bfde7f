package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/stickywall/internal/apperrors"
	"github.com/nkiryanov/stickywall/internal/handlers/userctx"
	"github.com/nkiryanov/stickywall/internal/models"
)

// Allow to use a function as auth service
type authFunc func(ctx context.Context, r *http.Request) (models.User, error)

func (f authFunc) Authenticate(ctx context.Context, r *http.Request) (models.User, error) {
	return f(ctx, r)
}

// Allow to use a function as csrf checker
type csrfFunc func(r *http.Request) error

func (f csrfFunc) CheckCSRF(r *http.Request) error {
	return f(r)
}

func TestAuthMiddleware(t *testing.T) {
	// Simple handler that try to get user from context
	// If ok write it email to response
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Must always be true cause middleware has to set user to response or write error to response
		user, ok := userctx.FromContext(r.Context())
		require.True(t, ok)

		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(user.Email))
		require.NoError(t, err, "should write email to response")
	})

	t.Run("auth ok", func(t *testing.T) {
		// Middleware that always return ok
		middleware := AuthMiddleware(authFunc(func(ctx context.Context, r *http.Request) (models.User, error) {
			return models.User{Email: "test-user@example.com"}, nil
		}))

		srv := httptest.NewServer(middleware(handler))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/test")
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		defer resp.Body.Close() // nolint:errcheck

		require.Equalf(t, http.StatusOK, resp.StatusCode, "should return status OK. Resp: %s", string(body))
		require.Equal(t, "test-user@example.com", string(body), "should return email in response")
	})

	t.Run("auth fail", func(t *testing.T) {
		// Middleware that always fails
		middleware := AuthMiddleware(authFunc(func(ctx context.Context, r *http.Request) (models.User, error) {
			return models.User{}, errors.New("go away")
		}))

		srv := httptest.NewServer(middleware(handler))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/test")
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		defer resp.Body.Close() // nolint:errcheck

		require.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "should return status Unauthorized. Resp: %s", string(body))
		require.JSONEq(t,
			`{
				"error": "service_error",
				"message": "Unauthorized"
			}`,
			string(body),
		)
	})
}

func TestCSRFMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	var checked atomic.Int32
	alwaysFail := CSRFMiddleware(csrfFunc(func(r *http.Request) error {
		checked.Add(1)
		return apperrors.ErrCSRFMismatch
	}))

	srv := httptest.NewServer(alwaysFail(handler))
	defer srv.Close()

	tests := []struct {
		method     string
		wantStatus int
	}{
		{method: http.MethodGet, wantStatus: http.StatusNoContent},
		{method: http.MethodHead, wantStatus: http.StatusNoContent},
		{method: http.MethodOptions, wantStatus: http.StatusNoContent},
		{method: http.MethodPost, wantStatus: http.StatusForbidden},
		{method: http.MethodPatch, wantStatus: http.StatusForbidden},
		{method: http.MethodPut, wantStatus: http.StatusForbidden},
		{method: http.MethodDelete, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+"/todos", strings.NewReader(""))
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			defer resp.Body.Close() // nolint:errcheck

			require.Equalf(t, tt.wantStatus, resp.StatusCode, "Resp: %s", string(body))
			if tt.wantStatus == http.StatusForbidden {
				require.JSONEq(t, `{"error": "csrf_failed", "message": "CSRF token mismatch"}`, string(body))
			}
		})
	}

	require.EqualValues(t, 4, checked.Load(), "only state changing methods should be checked")
}
