package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/demandcast/demandcast/internal/artifacts"
	"github.com/demandcast/demandcast/internal/persistence"
)

type runRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunRepo returns the Postgres run-log store.
func NewRunRepo(db *sqlx.DB, timeout time.Duration) persistence.RunRepo {
	return &runRepo{db: db, timeout: timeout}
}

func (r *runRepo) Record(ctx context.Context, rl artifacts.RunLog) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs
			(run_id, started_at, finished_at, config_hash, data_through, cutoffs_total, cutoffs_failed, rows_written, artifacts, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			cutoffs_total = EXCLUDED.cutoffs_total,
			cutoffs_failed = EXCLUDED.cutoffs_failed,
			rows_written = EXCLUDED.rows_written,
			artifacts = EXCLUDED.artifacts,
			status = EXCLUDED.status`,
		rl.RunID, rl.StartedAt, rl.FinishedAt, rl.ConfigHash, rl.DataThrough,
		rl.CutoffsTotal, rl.CutoffsFailed, rl.RowsWritten,
		pq.StringArray(rl.Artifacts), rl.Status)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rl.RunID, err)
	}
	return nil
}

func (r *runRepo) Recent(ctx context.Context, n int) ([]artifacts.RunLog, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT run_id, started_at, finished_at, config_hash, data_through, cutoffs_total, cutoffs_failed, rows_written, artifacts, status
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	var out []artifacts.RunLog
	for rows.Next() {
		var rl artifacts.RunLog
		var files pq.StringArray
		err := rows.Scan(&rl.RunID, &rl.StartedAt, &rl.FinishedAt, &rl.ConfigHash,
			&rl.DataThrough, &rl.CutoffsTotal, &rl.CutoffsFailed, &rl.RowsWritten,
			&files, &rl.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}
		rl.Artifacts = []string(files)
		out = append(out, rl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run logs: %w", err)
	}
	return out, nil
}
