// Package postgres stores simulation runs in PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"simorchestrator/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config holds connection pool settings.
type Config struct {
	URL             string
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv reads DATABASE_URL and the DB_* pool settings.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:             config.GetEnv("DATABASE_URL", ""),
		PingTimeout:     config.GetDurationEnv("DB_PING_TIMEOUT", 2*time.Second),
		MaxOpenConns:    config.GetIntEnv("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    config.GetIntEnv("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: config.GetDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		ConnMaxIdleTime: config.GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("DB_PING_TIMEOUT must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("DB_MAX_OPEN_CONNS must be >= 1")
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS")
	}
	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 {
		return errors.New("DB connection lifetimes must be >= 0")
	}
	return nil
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS simulation_runs (
	id                TEXT PRIMARY KEY,
	model_name        TEXT NOT NULL,
	state             TEXT NOT NULL,
	started_at        TIMESTAMPTZ,
	ended_at          TIMESTAMPTZ,
	engine_parameters JSONB,
	agent_parameters  JSONB,
	port              INTEGER,
	description       TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS simulation_runs_state_idx ON simulation_runs (state);
CREATE INDEX IF NOT EXISTS simulation_runs_model_idx ON simulation_runs (model_name);
CREATE INDEX IF NOT EXISTS simulation_runs_started_idx ON simulation_runs (started_at);
`

// EnsureSchema creates the runs table and its indexes if they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
