package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/persistence"
)

type predictionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPredictionRepo returns the Postgres prediction store.
func NewPredictionRepo(db *sqlx.DB, timeout time.Duration) persistence.PredictionRepo {
	return &predictionRepo{db: db, timeout: timeout}
}

func (r *predictionRepo) InsertBatch(ctx context.Context, runID string, rows []domain.PredictionRow) error {
	if len(rows) == 0 {
		return nil
	}

	// Scale the timeout with batch size so large backtests don't trip it.
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(rows)/1000+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO predictions
			(run_id, cutoff, model_name, issue_date, target_date, horizon, horizon_bucket, p50, p80, p90, y, is_closed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, cutoff, model_name, target_date) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			runID, row.Cutoff, row.ModelName, row.IssueDate, row.TargetDate,
			row.Horizon, string(row.HorizonBucket), row.P50, row.P80, row.P90,
			row.Y, row.IsClosed)
		if err != nil {
			return fmt.Errorf("failed to insert prediction row: %w", err)
		}
	}
	return tx.Commit()
}

func (r *predictionRepo) ListByRun(ctx context.Context, runID string) ([]domain.PredictionRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []domain.PredictionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT cutoff, model_name, issue_date, target_date, horizon, horizon_bucket, p50, p80, p90, y, is_closed
		FROM predictions
		WHERE run_id = $1
		ORDER BY cutoff, model_name, target_date`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions for run %s: %w", runID, err)
	}
	return rows, nil
}
