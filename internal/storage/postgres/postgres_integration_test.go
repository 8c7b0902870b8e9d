//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/storage/storagetest"
)

// startPostgres runs one container for the whole test; each store gets its
// own database so subtests stay isolated.
func startPostgres(t *testing.T) (baseURL string) {
	t.Helper()
	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("sprintsync"),
		tcpostgres.WithUsername("sprintsync"),
		tcpostgres.WithPassword("sprintsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

func TestPostgresStore(t *testing.T) {
	base := startPostgres(t)
	ctx := context.Background()

	admin, err := Open(ctx, Config{URL: base})
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	n := 0
	storagetest.Run(t, func(t *testing.T) storage.Store {
		n++
		db := fmt.Sprintf("suite_%d", n)
		_, err := admin.Pool().Exec(ctx, "CREATE DATABASE "+db)
		require.NoError(t, err)

		s, err := Open(ctx, Config{URL: replaceDatabase(t, base, db), MaxConns: 2})
		require.NoError(t, err)
		_, err = s.Migrate(ctx)
		require.NoError(t, err)
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	base := startPostgres(t)
	ctx := context.Background()

	s, err := Open(ctx, Config{URL: base})
	require.NoError(t, err)
	defer s.Close()

	applied, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Contains(t, applied, "0001_init")

	applied, err = s.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	status, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	for _, m := range status {
		assert.True(t, m.Applied, m.Version)
		assert.NotNil(t, m.AppliedAt)
	}
}

func TestOpenRejectsBadPassword(t *testing.T) {
	base := startPostgres(t)
	c, err := ConnString(base, "")
	require.NoError(t, err)
	bad := replaceUserInfo(t, c.String, "sprintsync", "wrong")

	start := time.Now()
	_, err = Open(context.Background(), Config{URL: bad, ConnectTimeout: 20 * time.Second})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "auth failures are not retried")
}
