package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

// Migrate legt fehlende Tabellen an.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_login_at TIMESTAMPTZ,
	failed_login_attempts INT NOT NULL DEFAULT 0,
	locked_until TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS service_tokens (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	token_hash TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_used_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS module_definitions (
	bus TEXT NOT NULL,
	address INT NOT NULL,
	cmd_name TEXT NOT NULL,
	name TEXT NOT NULL,
	version TEXT NOT NULL DEFAULT '',
	definition JSONB NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (bus, address)
);

CREATE TABLE IF NOT EXISTS telemetry_samples (
	id UUID PRIMARY KEY,
	bus TEXT NOT NULL,
	module TEXT NOT NULL,
	address INT NOT NULL,
	telemetry_type TEXT NOT NULL,
	idx INT NOT NULL,
	name TEXT NOT NULL,
	ready BOOLEAN NOT NULL,
	device_timestamp BIGINT NOT NULL,
	telemetry JSONB,
	error TEXT,
	sampled_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS telemetry_samples_lookup
	ON telemetry_samples (bus, module, telemetry_type, idx, sampled_at DESC);
`
