package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
// Each migration has a version key and SQL to execute.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_grid_transfers",
		SQL: `
			CREATE TABLE IF NOT EXISTS grid_transfers (
				id              BIGSERIAL    PRIMARY KEY,
				start_time      TIMESTAMP    NOT NULL,
				end_time        TIMESTAMP    NOT NULL,
				protocol        VARCHAR(16)  NOT NULL,
				server_hostname TEXT         NOT NULL,
				dest_hosts      TEXT[]       NOT NULL,
				username        TEXT         NOT NULL,
				client_software TEXT         NOT NULL,
				nl_event        TEXT         NOT NULL,
				filename        TEXT         NOT NULL,
				buffer          BIGINT       NOT NULL,
				block           BIGINT       NOT NULL,
				bytes           BIGINT       NOT NULL,
				volume          TEXT         NOT NULL,
				streams         INTEGER      NOT NULL,
				stripes         INTEGER      NOT NULL,
				type            TEXT         NOT NULL,
				code            INTEGER      NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_grid_transfers_start_time ON grid_transfers(start_time);
			CREATE INDEX IF NOT EXISTS idx_grid_transfers_dest_hosts ON grid_transfers USING GIN (dest_hosts);
		`,
	},
	{
		Version: "000002_create_grid_transfers_hashes",
		SQL: `
			CREATE TABLE IF NOT EXISTS grid_transfers_hashes (
				start_time   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				sha1hash     CHAR(40)    NOT NULL,
				submitted_by TEXT
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_grid_transfers_hashes_sha1hash ON grid_transfers_hashes(sha1hash);
		`,
	},
	{
		Version: "000003_create_grid_xsede_addrs",
		SQL: `
			CREATE TABLE IF NOT EXISTS grid_xsede_addrs (
				sitename TEXT   PRIMARY KEY,
				hosts    TEXT[] NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_grid_xsede_addrs_hosts ON grid_xsede_addrs USING GIN (hosts);
		`,
	},
}

// DB wraps a pgxpool connection pool and provides health checks and migrations.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database",
		"host", config.ConnConfig.Host,
		"database", config.ConnConfig.Database,
	)
	return &DB{Pool: pool}, nil
}

// RunMigrations applies pending migrations in order, each in its own
// transaction, and returns how many were applied.
func (db *DB) RunMigrations(ctx context.Context) (int, error) {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		ran := false
		err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING",
				m.Version,
			)
			if err != nil {
				return fmt.Errorf("failed to record migration: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			ran = true
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		if ran {
			applied++
			slog.Info("applied migration", "version", m.Version)
		}
	}

	return applied, nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
