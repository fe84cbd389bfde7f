package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/stickywall/internal/apperrors"
	"github.com/nkiryanov/stickywall/internal/logger"
)

const (
	defaultListenAddr       = "localhost:4000"
	defaultLoggingLevel     = logger.LevelInfo
	defaultEnvironment      = logger.EnvProduction
	defaultAccessTTL        = 15 * time.Minute
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultLoginMaxAttempts = 5
	defaultLoginCooldown    = 15 * time.Minute
	defaultCleanupInterval  = time.Hour
)

// Options are read in order: defaults, '.env' file, environment, flags
// Every next source overrides previous one
type Config struct {
	// Default logging level
	LogLevel string `env:"LOG_LEVEL"`

	// Address on which the stickywall service will be run
	ListenAddr string `env:"RUN_ADDRESS"`

	// Database to connect to
	DatabaseDSN string `env:"DATABASE_URI"`

	// Secret key to sign access tokens with
	SecretKey string `env:"ACCESS_TOKEN_SECRET"`

	AccessTTL  time.Duration `env:"ACCESS_TOKEN_TTL"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL"`

	// Redis used to throttle failed logins, throttling is disabled if empty
	RedisURL         string        `env:"REDIS_URL"`
	LoginMaxAttempts int           `env:"LOGIN_MAX_ATTEMPTS"`
	LoginCooldown    time.Duration `env:"LOGIN_COOLDOWN"`

	// How often expired refresh tokens are deleted
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL"`

	// Environment (dev, prod)
	// Cookies are marked 'Secure' in production
	Environment string `env:"ENVIRONMENT"`
}

func NewConfig() *Config {
	return &Config{
		LogLevel:         defaultLoggingLevel,
		ListenAddr:       defaultListenAddr,
		AccessTTL:        defaultAccessTTL,
		RefreshTTL:       defaultRefreshTTL,
		LoginMaxAttempts: defaultLoginMaxAttempts,
		LoginCooldown:    defaultLoginCooldown,
		CleanupInterval:  defaultCleanupInterval,
		Environment:      defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(envMap)
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

// Options missed in environment keep their current values
func (c *Config) LoadEnv(environment map[string]string) error {
	err := env.ParseWithOptions(c, env.Options{Environment: environment})
	if err != nil {
		return fmt.Errorf("can't parse environment: %w", err)
	}
	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("stickywall", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign access tokens")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.StringVarP(&c.RedisURL, "redis", "r", c.RedisURL, "Redis url, like redis://localhost:6379/0 (login throttling disabled if empty)")
	fs.IntVar(&c.LoginMaxAttempts, "login-max-attempts", c.LoginMaxAttempts, "Failed logins allowed within cooldown")
	fs.DurationVar(&c.LoginCooldown, "login-cooldown", c.LoginCooldown, "Failed logins window")
	fs.DurationVar(&c.CleanupInterval, "cleanup-interval", c.CleanupInterval, "How often expired refresh tokens are deleted")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database dsn must be set: %w", apperrors.ErrConfig)
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key must be set: %w", apperrors.ErrConfig)
	}
	if c.Environment != logger.EnvDevelopment && c.Environment != logger.EnvProduction {
		return fmt.Errorf("unknown environment %q: %w", c.Environment, apperrors.ErrConfig)
	}
	return nil
}

// Convert 'KEY=value' pairs to map
func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok {
			m[key] = value
		}
	}
	return m
}
