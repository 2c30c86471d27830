package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Vicaadrn/web-scanner-project/internal/store"
	"github.com/Vicaadrn/web-scanner-project/internal/store/postgres"
	"github.com/Vicaadrn/web-scanner-project/internal/store/storetest"
	"github.com/Vicaadrn/web-scanner-project/internal/testutil"
)

// setupTestContainer starts a disposable postgres and returns its DSN.
func setupTestContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
}

func TestPostgresStore(t *testing.T) {
	dsn := setupTestContainer(t)
	ctx := context.Background()

	s, err := postgres.New(ctx, postgres.Config{DSN: dsn, MaxConns: 4}, &testutil.DummyLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// Migrations are idempotent.
	again, err := postgres.New(ctx, postgres.Config{DSN: dsn}, nil)
	require.NoError(t, err)
	_ = again.Close()

	storetest.Run(t, func(t *testing.T) store.Store {
		_, err := s.Exec(ctx, `TRUNCATE scan_sessions, principals`)
		require.NoError(t, err)
		return s
	})
}
