package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/nkiryanov/stickywall/internal/logger"
)

// Error response of the server
type APIError struct {
	StatusCode int               `json:"-"`
	Type       string            `json:"error"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

type Config struct {
	// Server root, like http://localhost:4000
	BaseURL string

	// Transport to send requests with, http.DefaultTransport if not set
	Transport http.RoundTripper

	// Passed to Coordinator
	Cooldown                 time.Duration
	RefreshTimeout           time.Duration
	InUnauthenticatedContext func() bool
	OnSessionExpired         func(err error)

	Logger logger.Logger
}

type Profile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Todo struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Color       string     `json:"color"`
	Category    string     `json:"category"`
	Completed   bool       `json:"completed"`
	DueAt       *time.Time `json:"due_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type NewTodo struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Color       string     `json:"color,omitempty"`
	Category    string     `json:"category,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// Partial todo update, nil fields are not sent
type TodoUpdate struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Color       *string    `json:"color,omitempty"`
	Category    *string    `json:"category,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

type TodoStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Today     int `json:"today"`
	Upcoming  int `json:"upcoming"`
}

// Client of stickywall API
// Session is kept in cookie jar, expired access token is refreshed by Coordinator
type Client struct {
	baseURL *url.URL
	jar     http.CookieJar
	http    *http.Client
}

func New(cfg Config) (*Client, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", cfg.BaseURL)
	}
	baseURL = rootedURL(baseURL)

	jar := newJar()
	coordinator := NewCoordinator(cfg.Transport, jar, CoordinatorConfig{
		BaseURL:                  baseURL,
		Cooldown:                 cfg.Cooldown,
		RefreshTimeout:           cfg.RefreshTimeout,
		InUnauthenticatedContext: cfg.InUnauthenticatedContext,
		OnSessionExpired:         cfg.OnSessionExpired,
		Logger:                   cfg.Logger,
	})

	return &Client{
		baseURL: baseURL,
		jar:     jar,
		http:    &http.Client{Transport: coordinator, Jar: jar},
	}, nil
}

func (c *Client) Login(ctx context.Context, email string, password string) error {
	return c.do(ctx, http.MethodPost, "/auth/login", credentials{Email: email, Password: password}, nil)
}

func (c *Client) Signup(ctx context.Context, email string, password string) error {
	return c.do(ctx, http.MethodPost, "/auth/signup", credentials{Email: email, Password: password}, nil)
}

// Logout revokes the session on the server and forgets it locally
// Refresh cookie is scoped to refresh endpoint, so it is attached explicitly
func (c *Client) Logout(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return err
	}
	for _, cookie := range c.jar.Cookies(c.baseURL.JoinPath(refreshPath)) {
		if cookie.Name == refreshCookieName {
			req.AddCookie(cookie)
		}
	}

	return c.send(req, nil)
}

func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	err := c.do(ctx, http.MethodGet, "/auth/profile", nil, &p)
	return p, err
}

func (c *Client) ListTodos(ctx context.Context) ([]Todo, error) {
	var todos []Todo
	err := c.do(ctx, http.MethodGet, "/todos", nil, &todos)
	return todos, err
}

func (c *Client) CreateTodo(ctx context.Context, todo NewTodo) (Todo, error) {
	var created Todo
	err := c.do(ctx, http.MethodPost, "/todos", todo, &created)
	return created, err
}

func (c *Client) GetTodo(ctx context.Context, id uuid.UUID) (Todo, error) {
	var todo Todo
	err := c.do(ctx, http.MethodGet, "/todos/"+id.String(), nil, &todo)
	return todo, err
}

func (c *Client) UpdateTodo(ctx context.Context, id uuid.UUID, update TodoUpdate) (Todo, error) {
	var todo Todo
	err := c.do(ctx, http.MethodPatch, "/todos/"+id.String(), update, &todo)
	return todo, err
}

func (c *Client) DeleteTodo(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/todos/"+id.String(), nil, nil)
}

func (c *Client) Stats(ctx context.Context) (TodoStats, error) {
	var stats TodoStats
	err := c.do(ctx, http.MethodGet, "/todos/stats", nil, &stats)
	return stats, err
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Client) do(ctx context.Context, method string, path string, in any, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method string, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("can't encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("can't decode response: %w", err)
	}
	return nil
}

// Reports whether err is server response with the status
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

func newJar() http.CookieJar {
	// cookiejar.New never fails
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}
