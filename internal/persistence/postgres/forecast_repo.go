package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/persistence"
)

type forecastRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewForecastRepo returns the Postgres forecast mirror.
func NewForecastRepo(db *sqlx.DB, timeout time.Duration) persistence.ForecastRepo {
	return &forecastRepo{db: db, timeout: timeout}
}

func (r *forecastRepo) UpsertRows(ctx context.Context, runID string, rows []domain.ForecastRow) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO forecast_daily (ds, run_id, p50, p80, p90, is_closed, open_minutes, data_through)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ds) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			p50 = EXCLUDED.p50,
			p80 = EXCLUDED.p80,
			p90 = EXCLUDED.p90,
			is_closed = EXCLUDED.is_closed,
			open_minutes = EXCLUDED.open_minutes,
			data_through = EXCLUDED.data_through`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.DS, runID, row.P50, row.P80, row.P90,
			row.IsClosed, row.OpenMinutes, row.DataThrough)
		if err != nil {
			return fmt.Errorf("failed to upsert forecast row %s: %w", row.DS.Format("2006-01-02"), err)
		}
	}
	return tx.Commit()
}

func (r *forecastRepo) Window(ctx context.Context, from, to time.Time) ([]domain.ForecastRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []domain.ForecastRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT ds, p50, p80, p90, is_closed, open_minutes, data_through
		FROM forecast_daily
		WHERE ds >= $1 AND ds <= $2
		ORDER BY ds`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast window: %w", err)
	}
	return rows, nil
}
