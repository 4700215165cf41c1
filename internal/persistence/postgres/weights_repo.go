package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/persistence"
)

type weightsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewWeightsRepo returns the Postgres weight-set store.
func NewWeightsRepo(db *sqlx.DB, timeout time.Duration) persistence.WeightsRepo {
	return &weightsRepo{db: db, timeout: timeout}
}

func (r *weightsRepo) Save(ctx context.Context, ws *domain.WeightSet) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	buckets, err := json.Marshal(ws.Buckets)
	if err != nil {
		return fmt.Errorf("failed to marshal weight buckets: %w", err)
	}
	notes, err := json.Marshal(ws.Notes)
	if err != nil {
		return fmt.Errorf("failed to marshal weight notes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO weight_sets (id, run_id, fitted_at, buckets, notes)
		VALUES ($1, $2, $3, $4, $5)`,
		ws.ID, ws.RunID, ws.FittedAt, buckets, notes)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("weight set %s already saved: %w", ws.ID, err)
		}
		return fmt.Errorf("failed to save weight set: %w", err)
	}
	return nil
}

func (r *weightsRepo) Latest(ctx context.Context) (*domain.WeightSet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row struct {
		ID       string    `db:"id"`
		RunID    string    `db:"run_id"`
		FittedAt time.Time `db:"fitted_at"`
		Buckets  []byte    `db:"buckets"`
		Notes    []byte    `db:"notes"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT id, run_id, fitted_at, buckets, notes
		FROM weight_sets
		ORDER BY fitted_at DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest weight set: %w", err)
	}

	ws := &domain.WeightSet{ID: row.ID, RunID: row.RunID, FittedAt: row.FittedAt}
	if err := json.Unmarshal(row.Buckets, &ws.Buckets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weight buckets: %w", err)
	}
	if len(row.Notes) > 0 {
		if err := json.Unmarshal(row.Notes, &ws.Notes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal weight notes: %w", err)
		}
	}

	if err := ws.ValidateWeights(persistence.WeightSumTolerance); err != nil {
		return nil, fmt.Errorf("stored weight set %s is invalid: %w", ws.ID, err)
	}
	return ws, nil
}
