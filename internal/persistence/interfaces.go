// Package persistence defines the optional Postgres mirror of the file
// artifacts. Files stay the source of truth: every repo call is best-effort
// from the pipeline's point of view, and a DB failure never fails a run.
package persistence

import (
	"context"
	"time"

	"github.com/demandcast/demandcast/internal/artifacts"
	"github.com/demandcast/demandcast/internal/domain"
)

// WeightSumTolerance is the per-bucket weight-sum slack accepted when loading
// a stored weight set. Looser than the fitter's own tolerance because the
// round trip through JSONB loses a little precision.
const WeightSumTolerance = 0.05

// PredictionRepo stores backtest prediction rows keyed by run.
type PredictionRepo interface {
	// InsertBatch adds one run's prediction rows atomically. Duplicate
	// (run, cutoff, model, target) rows are ignored so re-runs are safe.
	InsertBatch(ctx context.Context, runID string, rows []domain.PredictionRow) error

	// ListByRun returns a run's rows ordered by cutoff, model, target date.
	ListByRun(ctx context.Context, runID string) ([]domain.PredictionRow, error)
}

// WeightsRepo stores fitted ensemble weight sets.
type WeightsRepo interface {
	// Save inserts a weight set. Weight sets are immutable; saving the same
	// ID twice is an error.
	Save(ctx context.Context, ws *domain.WeightSet) error

	// Latest returns the most recently fitted weight set, validated against
	// WeightSumTolerance. Returns nil when none exist.
	Latest(ctx context.Context) (*domain.WeightSet, error)
}

// ForecastRepo mirrors the current daily forecast. Each date holds the rows
// of whichever run wrote it last.
type ForecastRepo interface {
	// UpsertRows writes one run's forecast, replacing earlier runs' rows on
	// the same dates.
	UpsertRows(ctx context.Context, runID string, rows []domain.ForecastRow) error

	// Window returns the current forecast rows with from <= ds <= to,
	// ordered by ds.
	Window(ctx context.Context, from, to time.Time) ([]domain.ForecastRow, error)
}

// RunRepo stores run logs.
type RunRepo interface {
	Record(ctx context.Context, rl artifacts.RunLog) error

	// Recent returns the n newest run logs, newest first.
	Recent(ctx context.Context, n int) ([]artifacts.RunLog, error)
}

// Repository aggregates the mirror's repos behind one handle.
type Repository struct {
	Predictions PredictionRepo
	Weights     WeightsRepo
	Forecasts   ForecastRepo
	Runs        RunRepo
}
