package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nkiryanov/stickywall/internal/logger"
)

const (
	defaultCooldown       = 5 * time.Second
	defaultRefreshTimeout = 10 * time.Second

	refreshPath       = "/auth/refresh"
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
)

// Responses of these endpoints never trigger refresh
var skipPaths = map[string]struct{}{
	"/auth/login":   {},
	"/auth/signup":  {},
	"/auth/refresh": {},
	"/auth/logout":  {},
}

// Returned to every caller waiting for failed refresh
var ErrSessionExpired = errors.New("session expired")

type CoordinatorConfig struct {
	// Server root, refresh endpoint is resolved against it
	BaseURL *url.URL

	// No refresh is started within this period after previous attempt
	Cooldown time.Duration

	// Refresh request is cancelled after this timeout
	RefreshTimeout time.Duration

	// Reports the caller is on unauthenticated page (login, signup), 401 is returned as is then
	InUnauthenticatedContext func() bool

	// Called once for every failed refresh, before waiting requests are released
	// Must not wait for requests sent through the coordinator
	OnSessionExpired func(err error)

	// Used to get current time, time.Now if not set
	Now func() time.Time

	Logger logger.Logger
}

// Result of refresh shared by every request waiting for it
type flight struct {
	done chan struct{}
	err  error
}

// Coordinator is http.RoundTripper that refreshes session on 401 response and replays the request
// Concurrent 401 responses share single refresh call
type Coordinator struct {
	next    http.RoundTripper
	jar     http.CookieJar
	baseURL *url.URL

	cooldown         time.Duration
	refreshTimeout   time.Duration
	inUnauthContext  func() bool
	onSessionExpired func(err error)
	now              func() time.Time
	logger           logger.Logger

	mu          sync.Mutex
	inflight    *flight
	lastAttempt time.Time
	lastDone    time.Time
	lastErr     error
}

// Jar has to be the one used by http.Client the coordinator serves
func NewCoordinator(next http.RoundTripper, jar http.CookieJar, cfg CoordinatorConfig) *Coordinator {
	if next == nil {
		next = http.DefaultTransport
	}
	if jar == nil {
		jar = newJar()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.InUnauthenticatedContext == nil {
		cfg.InUnauthenticatedContext = func() bool { return false }
	}
	if cfg.OnSessionExpired == nil {
		cfg.OnSessionExpired = func(error) {}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.BaseURL != nil {
		cfg.BaseURL = rootedURL(cfg.BaseURL)
	}

	return &Coordinator{
		next:             next,
		jar:              jar,
		baseURL:          cfg.BaseURL,
		cooldown:         cfg.Cooldown,
		refreshTimeout:   cfg.RefreshTimeout,
		inUnauthContext:  cfg.InUnauthenticatedContext,
		onSessionExpired: cfg.OnSessionExpired,
		now:              cfg.Now,
		logger:           cfg.Logger,
	}
}

func (c *Coordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	getBody, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	first, err := c.prepare(req, getBody, false)
	if err != nil {
		return nil, err
	}

	sentAt := c.now()
	resp, err := c.next.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || c.skip(req) {
		return resp, err
	}

	err = c.refresh(req.Context(), sentAt)
	switch {
	case errors.Is(err, errCooldown):
		return resp, nil
	case err != nil:
		drain(resp)
		return nil, err
	}
	drain(resp)

	// Retried once: 401 of replayed request is returned to the caller
	replay, err := c.prepare(req, getBody, true)
	if err != nil {
		return nil, err
	}
	return c.next.RoundTrip(replay)
}

var errCooldown = errors.New("refresh cooldown")

// Wait for in flight refresh or start new one
// Returns errCooldown if refresh was attempted recently and the request can't benefit from it
func (c *Coordinator) refresh(ctx context.Context, sentAt time.Time) error {
	c.mu.Lock()

	f := c.inflight
	if f == nil {
		if !c.lastAttempt.IsZero() && c.now().Sub(c.lastAttempt) < c.cooldown {
			// Request was sent with cookies older than successful refresh: just replay it
			replay := c.lastErr == nil && sentAt.Before(c.lastDone)
			c.mu.Unlock()
			if replay {
				return nil
			}
			return errCooldown
		}

		f = &flight{done: make(chan struct{})}
		c.inflight = f
		c.lastAttempt = c.now()
		go c.doRefresh(context.WithoutCancel(ctx), f)
	}

	c.mu.Unlock()

	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) doRefresh(ctx context.Context, f *flight) {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	c.logger.Debug("Refreshing session")
	err := c.callRefresh(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
		c.logger.Warn("Session refresh failed", "error", err)
		c.forgetSession()
		c.onSessionExpired(err)
	}

	c.mu.Lock()
	f.err = err
	c.inflight = nil
	c.lastDone = c.now()
	c.lastErr = err
	c.mu.Unlock()

	close(f.done)
}

func (c *Coordinator) callRefresh(ctx context.Context) error {
	u := c.baseURL.JoinPath(refreshPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return err
	}
	for _, cookie := range c.jar.Cookies(u) {
		req.AddCookie(cookie)
	}

	resp, err := c.next.RoundTrip(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	// Failed refresh clears cookies as well
	c.jar.SetCookies(u, resp.Cookies())

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh responded with status %d", resp.StatusCode)
	}
	return nil
}

// Copy of the request ready to be sent: csrf header mirrored from cookie
// Cookies are reloaded from jar for replayed requests, they were changed by refresh
func (c *Coordinator) prepare(req *http.Request, getBody func() (io.ReadCloser, error), replay bool) (*http.Request, error) {
	r := req.Clone(req.Context())

	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
		r.GetBody = getBody
	}

	if replay {
		r.Header.Del("Cookie")
		for _, cookie := range c.jar.Cookies(r.URL) {
			r.AddCookie(cookie)
		}
	}

	if !isSafeMethod(r.Method) {
		for _, cookie := range c.jar.Cookies(r.URL) {
			if cookie.Name == csrfCookieName {
				r.Header.Set(csrfHeaderName, cookie.Value)
			}
		}
	}

	return r, nil
}

// Expire session cookies locally, the server may not have been reached to clear them
func (c *Coordinator) forgetSession() {
	expired := func(name string, path string) *http.Cookie {
		return &http.Cookie{Name: name, Path: path, MaxAge: -1}
	}

	refresh := c.baseURL.JoinPath(refreshPath)
	c.jar.SetCookies(refresh, []*http.Cookie{expired(refreshCookieName, refresh.Path)})
	c.jar.SetCookies(c.baseURL, []*http.Cookie{
		expired(accessCookieName, "/"),
		expired(csrfCookieName, "/"),
	})
}

func (c *Coordinator) skip(req *http.Request) bool {
	path := req.URL.Path
	if c.baseURL != nil {
		path = strings.TrimPrefix(path, strings.TrimSuffix(c.baseURL.Path, "/"))
	}

	if _, ok := skipPaths[path]; ok {
		return true
	}
	return c.inUnauthContext()
}

// Same methods are exempt from csrf check by the server
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Copy of u with absolute path
// Paths joined to empty one are relative, cookie jar matches nothing for them
func rootedURL(u *url.URL) *url.URL {
	r := *u
	if r.Path == "" {
		r.Path = "/"
		r.RawPath = ""
	}
	return &r
}

// Read request body once so it can be sent twice
func bufferBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}

	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("can't read request body: %w", err)
	}

	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
