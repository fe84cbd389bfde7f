package cleanup

import (
	"context"
	"time"

	"github.com/nkiryanov/stickywall/internal/logger"
)

const (
	defaultInterval  = time.Hour
	defaultRetention = 24 * time.Hour // Expired tokens are kept for a while after expiration
)

type tokenStore interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	// How often expired tokens are deleted
	Interval time.Duration

	// How long expired tokens are kept
	Retention time.Duration

	// Used to get current time, time.Now if not set
	Now func() time.Time

	Logger logger.Logger
}

// Worker periodically deletes expired refresh tokens
type Worker struct {
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    logger.Logger
	store     tokenStore
}

func New(cfg Config, store tokenStore) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &Worker{
		interval:  cfg.Interval,
		retention: cfg.Retention,
		now:       cfg.Now,
		logger:    cfg.Logger,
		store:     store,
	}
}

// Run starts the worker in background
// Returned channel is closed when worker stopped by context
func (w *Worker) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	w.logger.Debug("Starting cleanup worker", "interval", w.interval, "retention", w.retention)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.logger.Debug("Cleanup worker stopped by context")
				return

			case <-ticker.C:
				_, _ = w.RunOnce(ctx)
			}
		}
	}()

	return idleStopped
}

// RunOnce deletes tokens expired more than retention ago
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	before := w.now().Add(-w.retention)

	deleted, err := w.store.DeleteExpired(ctx, before)
	if err != nil {
		w.logger.Error("Failed to delete expired refresh tokens", "error", err)
		return 0, err
	}

	w.logger.Info("Expired refresh tokens deleted", "count", deleted, "before", before)
	return deleted, nil
}
