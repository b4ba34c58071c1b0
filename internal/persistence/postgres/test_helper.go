//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// setupTestDB connects to the test database and runs migrations. The
// test database is expected to already exist (created by
// docker-compose, mirroring the teacher's test setup).
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := Config{
		Host:            "localhost",
		Port:            "5432",
		User:            "postgres",
		Password:        "postgres",
		DB:              "lspjitd_test",
		SslMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5,
		MaxConnIdleTime: 1,
	}

	_, filename, _, _ := runtime.Caller(0)
	migrationsPath := filepath.Join(filepath.Dir(filename), "migrations")

	db, err := New(cfg, migrationsPath)
	require.NoError(t, err, "failed to connect to test database")

	require.NoError(t, db.RunMigrations(), "failed to run migrations on test database")
	return db
}

func cleanupTestDB(t *testing.T, db *DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := db.pool.Exec(ctx, "TRUNCATE TABLE jit_negotiations")
	require.NoError(t, err, "failed to truncate jit_negotiations")
}
