package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/stickywall/internal/apperrors"
	"github.com/nkiryanov/stickywall/internal/logger"
	"github.com/nkiryanov/stickywall/internal/models"
	"github.com/nkiryanov/stickywall/internal/ratelimit"
	"github.com/nkiryanov/stickywall/internal/service/auth/refreshtoken"
	"github.com/nkiryanov/stickywall/internal/service/user"
)

const (
	defaultAccessCookieName  = "access_token"
	defaultRefreshCookieName = "refresh_token"
	defaultCSRFCookieName    = "csrf_token"
	defaultCSRFHeaderName    = "X-CSRF-Token"
	defaultRefreshPath       = "/auth/refresh"

	defaultAccessHeaderName = "Authorization"
	defaultAccessAuthScheme = "Bearer"

	csrfBytesLen = 24
)

type Config struct {
	// Cookies names, defaults are used if not set
	AccessCookieName  string
	RefreshCookieName string
	CSRFCookieName    string

	// Header the client mirrors csrf cookie into
	CSRFHeaderName string

	// Refresh cookie is sent by browser to this path only
	RefreshPath string

	// Set 'Secure' attribute on cookies, has to be true when served over https
	SecureCookies bool

	Logger logger.Logger
}

type tokenIssuer interface {
	Sign(userID uuid.UUID) (models.IssuedToken, error)
	Verify(access string) (uuid.UUID, error)
	AccessTTL() time.Duration
}

type refreshStore interface {
	Issue(ctx context.Context, userID uuid.UUID) (models.IssuedRefresh, error)
	Rotate(ctx context.Context, bearer string) (models.IssuedRefresh, error)
	RevokeByID(ctx context.Context, id uuid.UUID) error
	TTL() time.Duration
}

type userService interface {
	CreateUser(ctx context.Context, email string, password string) (models.User, error)
	Login(ctx context.Context, email string, password string) (models.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
}

type loginLimiter interface {
	Check(ctx context.Context, email string) error
	Fail(ctx context.Context, email string) error
	Reset(ctx context.Context, email string) error
}

// Auth service
// Authenticates users and keeps their sessions in cookies: short living access token,
// refresh token to get new access token and csrf token for double submit check
type AuthService struct {
	accessCookieName  string
	refreshCookieName string
	csrfCookieName    string
	csrfHeaderName    string
	refreshPath       string
	accessHeaderName  string
	accessAuthScheme  string
	secure            bool

	tokens  tokenIssuer
	refresh refreshStore
	users   userService
	limiter loginLimiter
	logger  logger.Logger
}

func NewService(cfg Config, tokens tokenIssuer, refresh refreshStore, users userService, limiter loginLimiter) (*AuthService, error) {
	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.AccessCookieName, defaultAccessCookieName)
	setDefault(&cfg.RefreshCookieName, defaultRefreshCookieName)
	setDefault(&cfg.CSRFCookieName, defaultCSRFCookieName)
	setDefault(&cfg.CSRFHeaderName, defaultCSRFHeaderName)
	setDefault(&cfg.RefreshPath, defaultRefreshPath)

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if limiter == nil {
		limiter = ratelimit.NoOp{}
	}

	return &AuthService{
		accessCookieName:  cfg.AccessCookieName,
		refreshCookieName: cfg.RefreshCookieName,
		csrfCookieName:    cfg.CSRFCookieName,
		csrfHeaderName:    cfg.CSRFHeaderName,
		refreshPath:       cfg.RefreshPath,
		accessHeaderName:  defaultAccessHeaderName,
		accessAuthScheme:  defaultAccessAuthScheme,
		secure:            cfg.SecureCookies,

		tokens:  tokens,
		refresh: refresh,
		users:   users,
		limiter: limiter,
		logger:  cfg.Logger,
	}, nil
}

// Register user and start the session
// Has to return apperrors.ErrEmailTaken if email is used already
func (s *AuthService) Signup(ctx context.Context, email string, password string) (models.Session, error) {
	u, err := s.users.CreateUser(ctx, email, password)
	if err != nil {
		return models.Session{}, err
	}

	return s.startSession(ctx, u)
}

// Login user and start the session
// Unknown email and wrong password both reported as apperrors.ErrInvalidCredentials
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.Session, error) {
	key := user.NormalizeEmail(email)

	err := s.limiter.Check(ctx, key)
	switch {
	case errors.Is(err, apperrors.ErrTooManyAttempts):
		s.logger.Warn("Login throttled", "email", key)
		return models.Session{}, err
	case err != nil:
		s.logger.Error("Login limiter check failed", "error", err)
	}

	u, err := s.users.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidCredentials) {
			if err := s.limiter.Fail(ctx, key); err != nil {
				s.logger.Error("Login limiter failed to count attempt", "error", err)
			}
		}
		return models.Session{}, err
	}

	if err := s.limiter.Reset(ctx, key); err != nil {
		s.logger.Error("Login limiter reset failed", "error", err)
	}

	return s.startSession(ctx, u)
}

// Exchange refresh token for new session
// Any failure is reported as error wrapping apperrors.ErrUnauthenticated
// Only user ID is set in returned session user
func (s *AuthService) Refresh(ctx context.Context, bearer string) (models.Session, error) {
	if bearer == "" {
		return models.Session{}, apperrors.ErrUnauthenticated
	}

	// Everything that may fail is done before the old token is spent
	csrf, err := newCSRFToken()
	if err != nil {
		return models.Session{}, err
	}

	rotated, err := s.refresh.Rotate(ctx, bearer)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %w", apperrors.ErrUnauthenticated, err)
	}

	access, err := s.tokens.Sign(rotated.UserID)
	if err != nil {
		s.logger.Error("Access token not signed for rotated session", "user_id", rotated.UserID, "error", err)
		return models.Session{}, err
	}

	return models.Session{
		User:    models.User{ID: rotated.UserID},
		Access:  access,
		Refresh: rotated,
		CSRF:    csrf,
	}, nil
}

// Revoke presented refresh token. Never fails: errors are logged only
func (s *AuthService) Logout(ctx context.Context, bearer string) {
	if bearer == "" {
		return
	}

	id, _, err := refreshtoken.ParseBearer(bearer)
	if err != nil {
		return
	}

	if err := s.refresh.RevokeByID(ctx, id); err != nil {
		s.logger.Error("Logout failed to revoke refresh token", "token_id", id, "error", err)
	}
}

// Get user the request is authenticated for
// Access token is taken from cookie or from 'Authorization: Bearer' header
func (s *AuthService) Authenticate(ctx context.Context, r *http.Request) (models.User, error) {
	access := s.accessFromRequest(r)
	if access == "" {
		return models.User{}, apperrors.ErrUnauthenticated
	}

	userID, err := s.tokens.Verify(access)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %w", apperrors.ErrUnauthenticated, err)
	}

	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %w", apperrors.ErrUnauthenticated, err)
	}

	return u, nil
}

// Double submit check: csrf header has to match csrf cookie
// Only cookie authenticated requests are checked, browser never attaches 'Authorization' header on its own
func (s *AuthService) CheckCSRF(r *http.Request) error {
	if _, err := r.Cookie(s.accessCookieName); err != nil {
		return nil
	}

	header := r.Header.Get(s.csrfHeaderName)
	cookie, err := r.Cookie(s.csrfCookieName)
	if err != nil || header == "" || cookie.Value == "" {
		return apperrors.ErrCSRFMismatch
	}

	if subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
		return apperrors.ErrCSRFMismatch
	}

	return nil
}

// Get refresh token from request cookie
func (s *AuthService) GetRefreshString(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil || cookie.Value == "" {
		return "", apperrors.ErrUnauthenticated
	}
	return cookie.Value, nil
}

// Set session cookies to response
func (s *AuthService) SetSessionCookies(w http.ResponseWriter, session models.Session) {
	http.SetCookie(w, s.cookie(s.accessCookieName, session.Access.Value, "/", s.tokens.AccessTTL(), true))
	http.SetCookie(w, s.cookie(s.refreshCookieName, session.Refresh.Value, s.refreshPath, s.refresh.TTL(), true))
	http.SetCookie(w, s.cookie(s.csrfCookieName, session.CSRF, "/", s.refresh.TTL(), false))
}

// Clear session cookies: same names and paths, expired
func (s *AuthService) ClearSessionCookies(w http.ResponseWriter) {
	for _, c := range []*http.Cookie{
		s.cookie(s.accessCookieName, "", "/", 0, true),
		s.cookie(s.refreshCookieName, "", s.refreshPath, 0, true),
		s.cookie(s.csrfCookieName, "", "/", 0, false),
	} {
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (s *AuthService) startSession(ctx context.Context, u models.User) (models.Session, error) {
	access, err := s.tokens.Sign(u.ID)
	if err != nil {
		return models.Session{}, err
	}

	refresh, err := s.refresh.Issue(ctx, u.ID)
	if err != nil {
		return models.Session{}, err
	}

	csrf, err := newCSRFToken()
	if err != nil {
		return models.Session{}, err
	}

	return models.Session{User: u, Access: access, Refresh: refresh, CSRF: csrf}, nil
}

func (s *AuthService) accessFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(s.accessCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	scheme, token, ok := strings.Cut(r.Header.Get(s.accessHeaderName), " ")
	if ok && strings.EqualFold(scheme, s.accessAuthScheme) {
		return strings.TrimSpace(token)
	}

	return ""
}

func (s *AuthService) cookie(name string, value string, path string, ttl time.Duration, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: httpOnly,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func newCSRFToken() (string, error) {
	b := make([]byte, csrfBytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating csrf token. Err: %w", err)
	}
	return hex.EncodeToString(b), nil
}
