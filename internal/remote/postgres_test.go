package remote_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rebootcamp/attendsync/internal/remote"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("attendance"),
		postgres.WithUsername("attendsync"),
		postgres.WithPassword("attendsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Skipping integration test: postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresBackend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool, err := remote.NewPostgresPool(ctx, remote.PostgresConfig{DSN: startPostgres(t)})
	require.NoError(t, err)
	b := remote.NewPostgresBackend(pool)
	defer b.Close()

	require.NoError(t, b.EnsureSchema(ctx))
	require.NoError(t, b.EnsureSchema(ctx), "schema creation is idempotent")
	require.NoError(t, b.Ping(ctx))

	grace := adaRow()
	grace.ChildName = "Grace"
	require.NoError(t, b.AppendRecord(ctx, adaRow()))
	require.NoError(t, b.AppendRecord(ctx, grace))

	names, err := b.BulkUpdateCheckout(ctx, "2024-06-01", "T7", "12:00 PM")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Ada", "Grace"}, names)

	names, err = b.BulkUpdateCheckout(ctx, "2024-06-01", "T7", "12:00 PM")
	require.NoError(t, err)
	assert.Empty(t, names)

	rows, err := b.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Checked-Out", rows[0].Status)
	assert.NotZero(t, rows[0].RowID)

	require.NoError(t, b.DeleteRow(ctx, rows[0].RowID))
	assert.Error(t, b.DeleteRow(ctx, rows[0].RowID))

	rows, err = b.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPostgresBackend_MissingTableIsSchemaMismatch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool, err := remote.NewPostgresPool(ctx, remote.PostgresConfig{DSN: startPostgres(t)})
	require.NoError(t, err)
	b := remote.NewPostgresBackend(pool)
	defer b.Close()

	_, err = b.ListRecords(ctx)
	assert.True(t, remote.IsSchemaMismatch(err), "got %v", err)
	assert.False(t, remote.IsUnavailable(err))
}
