package testutil

import (
	"context"
	"net"
	"os/exec"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nkiryanov/stickywall/internal/db"
)

// Free port on loopback, may be taken by someone else before used
func RandomPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return port, ln.Close()
}

const (
	postgresImage = "postgres:17-alpine"
	postgresDB    = "stickywall-test"
	postgresUser  = "stickywall"
)

type PostgresContainer struct {
	Pool      *pgxpool.Pool
	DSN       string
	Terminate func()
}

// Start migrated postgres in docker, fail test if it could not be started
// Container is not stopped automatically, call Terminate when tests done
func StartPostgresContainer(t *testing.T) PostgresContainer {
	t.Helper()

	if out, err := exec.Command("docker", "info", "--format", "{{.ServerVersion}}").CombinedOutput(); err != nil {
		t.Fatalf("docker is not available: %s", out)
	}

	container, err := postgres.Run(t.Context(), postgresImage,
		postgres.WithDatabase(postgresDB),
		postgres.WithUsername(postgresUser),
		postgres.WithPassword("pwd"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "postgres container not started")

	dsn, err := container.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.ConnectAndMigrate(t.Context(), dsn)
	if err != nil {
		testcontainers.CleanupContainer(t, container)
		t.Fatalf("postgres not migrated: %v", err)
	}
	t.Logf("postgres started, dsn=%s", dsn)

	var once sync.Once
	return PostgresContainer{
		Pool: pool,
		DSN:  dsn,
		Terminate: func() {
			once.Do(func() {
				pool.Close()
				testcontainers.CleanupContainer(t, container)
			})
		},
	}
}

type dbtx interface {
	Begin(context.Context) (pgx.Tx, error)
}

// Run fn within transaction which is always rolled back
func WithTx(dbtx dbtx, t *testing.T, fn func(tx pgx.Tx)) {
	t.Helper()

	tx, err := dbtx.Begin(t.Context())
	require.NoError(t, err, "transaction not started")
	defer func() {
		require.NoError(t, tx.Rollback(context.WithoutCancel(t.Context())))
	}()

	fn(tx)
}

// Start in-memory redis and return client connected to it
// Both are closed when test stops
func StartRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return mr, client
}
