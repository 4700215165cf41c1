package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/artifacts"
	"github.com/demandcast/demandcast/internal/assemble"
	"github.com/demandcast/demandcast/internal/backtest"
	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/uplift"
)

// Backtest runs only the backtest stage and writes its prediction and metrics
// artifacts under a fresh run directory.
func (p *Pipeline) Backtest(ctx context.Context) (*backtest.Result, error) {
	in, err := p.ingest()
	if err != nil {
		return nil, err
	}

	names := p.modelNames(Options{})
	if len(names) == 0 {
		return nil, fmt.Errorf("no usable models configured")
	}
	estimator := uplift.NewEstimator(p.cfg.Uplift, in.history, in.events, p.cache, p.cfg.Cache.DefaultTTL)

	runner := backtest.NewRunner(p.cfg.Backtest, in.history, p.forecasterFactory(names), estimator.ComputePriors, p.metrics)
	result, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	w := artifacts.NewWriter(p.cfg.Output.Dir, runID)
	if err := w.WritePredictions(result.Rows); err != nil {
		return nil, err
	}
	if err := w.WriteBucketMetrics(backtest.ComputeBucketMetrics(result.Rows)); err != nil {
		return nil, err
	}
	if err := w.WritePeakMetrics(backtest.ComputePeakMetrics(result.Rows, p.cfg.Backtest.PeakPercentile)); err != nil {
		return nil, err
	}
	if err := w.WriteRunLog(artifacts.RunLog{
		RunID:         runID,
		StartedAt:     time.Now().UTC(),
		FinishedAt:    time.Now().UTC(),
		ConfigHash:    p.cfg.Hash(),
		DataThrough:   in.history.End(),
		CutoffsTotal:  result.Cutoffs,
		CutoffsFailed: result.Failed,
		Status:        "ok",
	}); err != nil {
		return nil, err
	}
	log.Info().Str("dir", w.Dir()).Msg("Backtest artifacts written")
	return result, nil
}

// Priors computes uplift priors as of the given date, or as of the history
// end when asOf is zero.
func (p *Pipeline) Priors(asOf time.Time) (map[string]domain.UpliftPrior, error) {
	in, err := p.ingest()
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = in.history.End()
	}
	estimator := uplift.NewEstimator(p.cfg.Uplift, in.history, in.events, p.cache, p.cfg.Cache.DefaultTTL)
	return estimator.ComputePriors(asOf), nil
}

// Fit refits ensemble weights from the newest run's prediction artifacts and
// writes the weight set under a fresh run directory.
func (p *Pipeline) Fit(ctx context.Context) (*domain.WeightSet, error) {
	predictions, err := p.loadLatestPredictions()
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	ws, err := p.fitWeights(predictions, runID)
	if err != nil {
		return nil, err
	}

	w := artifacts.NewWriter(p.cfg.Output.Dir, runID)
	if err := w.WriteWeights(ws); err != nil {
		return nil, err
	}
	if err := w.WriteRunLog(artifacts.RunLog{
		RunID:      runID,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		ConfigHash: p.cfg.Hash(),
		Status:     "ok",
	}); err != nil {
		return nil, err
	}
	if repo := p.repository(ctx); repo != nil {
		if err := repo.Weights.Save(ctx, ws); err != nil {
			log.Warn().Err(err).Msg("Failed to mirror weight set to Postgres")
		}
	}
	log.Info().Str("dir", w.Dir()).Str("weight_set", ws.ID).Msg("Weight set written")
	return ws, nil
}

// Forecast assembles the production forecast using the newest stored weight
// set, writing the forecast and its rollups under a fresh run directory.
func (p *Pipeline) Forecast(ctx context.Context) ([]domain.ForecastRow, error) {
	in, err := p.ingest()
	if err != nil {
		return nil, err
	}
	dataThrough := in.history.End()

	dir, err := artifacts.LatestRunDir(p.cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("no previous run found under %s; run fit first", p.cfg.Output.Dir)
	}
	ws, err := artifacts.ReadWeights(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load weight set from %s: %w", dir, err)
	}

	names := p.modelNames(Options{})
	estimator := uplift.NewEstimator(p.cfg.Uplift, in.history, in.events, p.cache, p.cfg.Cache.DefaultTTL)
	priors := estimator.ComputePriors(dataThrough)

	forecasts, err := p.productionForecasts(ctx, p.forecasterFactory(names), in.history, dataThrough, priors)
	if err != nil {
		return nil, err
	}

	guardrails := assemble.NewGuardrails(in.hours, p.metrics)
	overlay := assemble.NewOverlay(in.events, priors)
	assembler := assemble.NewAssembler(ws, guardrails, in.hours, p.cfg.Calibration, overlay)
	rows, err := assembler.Assemble(forecasts, dataThrough, p.cfg.Forecast.HorizonDays, in.history, in.overrides)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	w := artifacts.NewWriter(p.cfg.Output.Dir, runID)
	if err := w.WriteForecast(rows); err != nil {
		return nil, err
	}
	if err := w.WriteOrderingRollup(rows); err != nil {
		return nil, err
	}
	if err := w.WriteSchedulingRollup(rows); err != nil {
		return nil, err
	}
	if err := w.WriteRunLog(artifacts.RunLog{
		RunID:       runID,
		StartedAt:   time.Now().UTC(),
		FinishedAt:  time.Now().UTC(),
		ConfigHash:  p.cfg.Hash(),
		DataThrough: dataThrough,
		RowsWritten: len(rows),
		Status:      "ok",
	}); err != nil {
		return nil, err
	}
	if repo := p.repository(ctx); repo != nil {
		if err := repo.Forecasts.UpsertRows(ctx, runID, rows); err != nil {
			log.Warn().Err(err).Msg("Failed to mirror forecast to Postgres")
		}
	}
	log.Info().Str("dir", w.Dir()).Int("rows", len(rows)).Msg("Forecast written")
	return rows, nil
}
