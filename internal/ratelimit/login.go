package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/stickywall/internal/apperrors"
)

const (
	defaultMaxAttempts = 5
	defaultCooldown    = 15 * time.Minute
	defaultKeyPrefix   = "stickywall:login:"
)

// Redis could not be reached or returned an error
var ErrUnavailable = errors.New("rate limiter storage unavailable")

type Config struct {
	// Failed attempts allowed within cooldown window
	MaxAttempts int

	// Window starts with first failed attempt
	Cooldown time.Duration

	// Redis key prefix
	KeyPrefix string
}

// LoginLimiter counts failed logins per email in fixed windows
type LoginLimiter struct {
	redis  redis.UniversalClient
	config Config
}

func NewLoginLimiter(client redis.UniversalClient, cfg Config) *LoginLimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}

	return &LoginLimiter{redis: client, config: cfg}
}

// Check returns apperrors.ErrTooManyAttempts if the email spent its attempts
func (l *LoginLimiter) Check(ctx context.Context, email string) error {
	count, err := l.redis.Get(ctx, l.key(email)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case count >= int64(l.config.MaxAttempts):
		return apperrors.ErrTooManyAttempts
	default:
		return nil
	}
}

// Fail records failed attempt
// Counter and its TTL are set in one transaction, so the counter can't outlive the window
func (l *LoginLimiter) Fail(ctx context.Context, email string) error {
	key := l.key(email)

	// Fixed window: NX keeps TTL set by the first failure
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.config.Cooldown)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Reset clears failed attempts, called after successful login
func (l *LoginLimiter) Reset(ctx context.Context, email string) error {
	if err := l.redis.Del(ctx, l.key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *LoginLimiter) key(email string) string {
	return l.config.KeyPrefix + email
}

// Limiter is implemented by LoginLimiter and NoOp
type Limiter interface {
	Check(ctx context.Context, email string) error
	Fail(ctx context.Context, email string) error
	Reset(ctx context.Context, email string) error
}

var (
	_ Limiter = (*LoginLimiter)(nil)
	_ Limiter = NoOp{}
)

// NoOp never limits anything, used when redis is not configured
type NoOp struct{}

func (NoOp) Check(context.Context, string) error { return nil }
func (NoOp) Fail(context.Context, string) error  { return nil }
func (NoOp) Reset(context.Context, string) error { return nil }
