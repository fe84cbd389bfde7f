package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/stickywall/internal/db"
	"github.com/nkiryanov/stickywall/internal/handlers"
	"github.com/nkiryanov/stickywall/internal/logger"
	"github.com/nkiryanov/stickywall/internal/ratelimit"
	"github.com/nkiryanov/stickywall/internal/repository/postgres"
	"github.com/nkiryanov/stickywall/internal/service/auth"
	"github.com/nkiryanov/stickywall/internal/service/auth/hasher"
	"github.com/nkiryanov/stickywall/internal/service/auth/refreshtoken"
	"github.com/nkiryanov/stickywall/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/stickywall/internal/service/cleanup"
	"github.com/nkiryanov/stickywall/internal/service/todo"
	"github.com/nkiryanov/stickywall/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	cleanup *cleanup.Worker
	logger  logger.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	secureCookies := c.Environment == logger.EnvProduction

	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey, AccessTTL: c.AccessTTL})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: logger, pool: pool}

	var limiter ratelimit.Limiter = ratelimit.NoOp{}
	if c.RedisURL != "" {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		app.redis = redis.NewClient(opts)
		if err := app.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis is not reachable, failed logins are not throttled until it is", "error", err)
		}
		limiter = ratelimit.NewLoginLimiter(app.redis, ratelimit.Config{
			MaxAttempts: c.LoginMaxAttempts,
			Cooldown:    c.LoginCooldown,
		})
	} else {
		logger.Info("Redis is not configured, failed logins are not throttled")
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	userService, err := user.NewService(hasher.Default, storage)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating user service: %w", err)
	}
	refreshStore := refreshtoken.New(refreshtoken.Config{
		TTL:    c.RefreshTTL,
		Logger: logger.WithGroup("refresh"),
	}, storage)
	authService, err := auth.NewService(auth.Config{
		SecureCookies: secureCookies,
		Logger:        logger.WithGroup("auth"),
	}, tokenManager, refreshStore, userService, limiter)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	todoService := todo.NewService(storage, nil)

	app.cleanup = cleanup.New(cleanup.Config{
		Interval: c.CleanupInterval,
		Logger:   logger.WithGroup("cleanup"),
	}, refreshStore)
	app.Handler = handlers.NewRouter(authService, todoService, logger)

	return app, nil
}

// Run starts http server and cleanup worker
// Both stopped gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting server", "address", s.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		return nil
	})

	g.Go(func() error {
		<-s.cleanup.Run(ctx)
		return nil
	})

	return g.Wait()
}

// Close releases db and redis connections
func (s *ServerApp) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	s.pool.Close()
}
