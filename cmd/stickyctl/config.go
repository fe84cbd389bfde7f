package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/stickywall/internal/logger"
)

const (
	defaultServerURL       = "http://localhost:4000"
	defaultRefreshCooldown = 5 * time.Second
	defaultRefreshTimeout  = 10 * time.Second
	defaultLoggingLevel    = logger.LevelError
)

// Options are read in order: defaults, environment, flags
type Config struct {
	// Stickywall server root
	URL string `env:"STICKYWALL_URL"`

	// No session refresh within this period after previous attempt
	RefreshCooldown time.Duration `env:"REFRESH_COOLDOWN"`

	// Session refresh request timeout
	RefreshTimeout time.Duration `env:"REFRESH_TIMEOUT"`

	LogLevel string `env:"LOG_LEVEL"`
}

func NewConfig() *Config {
	return &Config{
		URL:             defaultServerURL,
		RefreshCooldown: defaultRefreshCooldown,
		RefreshTimeout:  defaultRefreshTimeout,
		LogLevel:        defaultLoggingLevel,
	}
}

func (c *Config) LoadEnv(environment map[string]string) error {
	err := env.ParseWithOptions(c, env.Options{Environment: environment})
	if err != nil {
		return fmt.Errorf("can't parse environment: %w", err)
	}
	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("stickyctl", pflag.ContinueOnError)

	fs.StringVarP(&c.URL, "url", "u", c.URL, "Stickywall server url")
	fs.DurationVar(&c.RefreshCooldown, "refresh-cooldown", c.RefreshCooldown, "No session refresh within this period after previous attempt")
	fs.DurationVar(&c.RefreshTimeout, "refresh-timeout", c.RefreshTimeout, "Session refresh timeout")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")

	return fs.Parse(args)
}
