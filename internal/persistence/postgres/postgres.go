// Package postgres provides an optional durable audit log of completed
// and failed JIT channel negotiations. Nothing in internal/lsps2 or
// internal/liquidity depends on this package - spec.md §1 explicitly
// treats persistence across restarts as out of scope for the core, but
// also notes an implementer may add it, so it lives as an opt-in
// sidecar an embedder wires up from cmd/lspjitd if it wants a record
// trail for support and reconciliation.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lspjitd/lspjitd/pkg/logger"
)

// Config is the connection configuration for the audit-log database,
// populated from config.ServiceConfig via copier.
type Config struct {
	Host            string
	Port            string
	User            string
	Password        string
	DB              string
	SslMode         string
	MaxConns        int
	MinConns        int
	MaxConnLifetime int
	MaxConnIdleTime int
}

// DB wraps a pgx connection pool and the migration source used to bring
// the audit log schema up to date.
type DB struct {
	pool          *pgxpool.Pool
	migrationPath string
}

// New dials Postgres, validates the connection with a ping, and returns
// a ready-to-use DB. migrationPath should point at the directory
// containing this package's SQL migration files.
func New(cfg Config, migrationPath string) (*DB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DB, cfg.SslMode)
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		logger.Error("failed to parse audit log connection config", zap.Error(err))
		return nil, err
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime) * time.Minute
	poolCfg.MaxConnIdleTime = time.Duration(cfg.MaxConnIdleTime) * time.Minute

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to create audit log connection pool", zap.Error(err))
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("audit log database ping failed", zap.Error(err))
		return nil, err
	}

	logger.Info("audit log connection pool created successfully")

	return &DB{pool: pool, migrationPath: migrationPath}, nil
}

// Ping checks whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// RunMigrations brings the audit log schema up to date using
// golang-migrate, reading SQL files from db.migrationPath.
func (db *DB) RunMigrations() error {
	connStr := db.pool.Config().ConnString()
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		logger.Error("failed to open sql.DB for audit log migrations", zap.Error(err))
		return fmt.Errorf("postgres: open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		logger.Error("failed to create postgres migration driver", zap.Error(err))
		return fmt.Errorf("postgres: create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+db.migrationPath, "postgres", driver)
	if err != nil {
		logger.Error("failed to create migrate instance", zap.Error(err))
		return fmt.Errorf("postgres: create migrate instance: %w", err)
	}

	logger.Info("running audit log migrations")
	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			logger.Info("no new audit log migrations to apply")
			return nil
		}
		logger.Error("audit log migration failed", zap.Error(err))
		return fmt.Errorf("postgres: migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("postgres: read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("postgres: audit log database is in a dirty state at version %d", version)
	}

	logger.Info("audit log migrations completed", zap.Uint("version", version))
	return nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}
