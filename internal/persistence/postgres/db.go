// Package postgres implements the persistence repos over sqlx + lib/pq.
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/persistence"
)

// Connect opens a pooled connection from the database config and verifies it
// with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// NewRepository wires all repos over one connection pool.
func NewRepository(db *sqlx.DB, cfg config.DatabaseConfig) persistence.Repository {
	return persistence.Repository{
		Predictions: NewPredictionRepo(db, cfg.QueryTimeout),
		Weights:     NewWeightsRepo(db, cfg.QueryTimeout),
		Forecasts:   NewForecastRepo(db, cfg.QueryTimeout),
		Runs:        NewRunRepo(db, cfg.QueryTimeout),
	}
}

// Migrate creates the mirror schema when it does not exist yet. Idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS predictions (
			run_id         TEXT             NOT NULL,
			cutoff         DATE             NOT NULL,
			model_name     TEXT             NOT NULL,
			issue_date     DATE             NOT NULL,
			target_date    DATE             NOT NULL,
			horizon        INT              NOT NULL,
			horizon_bucket TEXT             NOT NULL,
			p50            DOUBLE PRECISION NOT NULL,
			p80            DOUBLE PRECISION NOT NULL,
			p90            DOUBLE PRECISION NOT NULL,
			y              DOUBLE PRECISION NOT NULL,
			is_closed      BOOLEAN          NOT NULL,
			PRIMARY KEY (run_id, cutoff, model_name, target_date)
		)`,
		`CREATE TABLE IF NOT EXISTS weight_sets (
			id        TEXT        PRIMARY KEY,
			run_id    TEXT        NOT NULL,
			fitted_at TIMESTAMPTZ NOT NULL,
			buckets   JSONB       NOT NULL,
			notes     JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS forecast_daily (
			ds           DATE             PRIMARY KEY,
			run_id       TEXT             NOT NULL,
			p50          DOUBLE PRECISION NOT NULL,
			p80          DOUBLE PRECISION NOT NULL,
			p90          DOUBLE PRECISION NOT NULL,
			is_closed    BOOLEAN          NOT NULL,
			open_minutes INT              NOT NULL,
			data_through DATE             NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id         TEXT        PRIMARY KEY,
			started_at     TIMESTAMPTZ NOT NULL,
			finished_at    TIMESTAMPTZ NOT NULL,
			config_hash    TEXT        NOT NULL,
			data_through   DATE        NOT NULL,
			cutoffs_total  INT         NOT NULL,
			cutoffs_failed INT         NOT NULL,
			rows_written   INT         NOT NULL,
			artifacts      TEXT[]      NOT NULL,
			status         TEXT        NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
