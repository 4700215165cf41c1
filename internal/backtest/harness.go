package backtest

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/models"
	"github.com/demandcast/demandcast/internal/telemetry"
)

// ForecasterFactory builds a fresh forecaster set. Each cutoff worker gets
// its own instances because forecasters are stateful across fit/predict.
type ForecasterFactory func() ([]models.Forecaster, error)

// PriorFn computes out-of-fold event uplift priors for a cutoff. The same
// function serves production with dsMax = history end, so train and
// production share one code path.
type PriorFn func(dsMax time.Time) map[string]domain.UpliftPrior

// EventAware is the optional forecaster capability for consuming event
// uplift priors as features. The harness feeds it the out-of-fold priors of
// the current cutoff before Fit.
type EventAware interface {
	SetEventPriors(priors map[string]domain.UpliftPrior)
}

// Runner executes the rolling-origin backtest over a fixed history.
type Runner struct {
	cfg     config.BacktestConfig
	history domain.Series
	factory ForecasterFactory
	priors  PriorFn // optional
	metrics *telemetry.Metrics
}

// Result aggregates one backtest run. Rows are merged in cutoff order after
// all workers drain, so the log reads as if cutoffs ran sequentially.
type Result struct {
	Rows     []domain.PredictionRow
	Cutoffs  int
	Skipped  int
	Failed   int // (cutoff, model) failures
	Failures []*domain.ForecasterError
}

// NewRunner wires a harness over the full observation history. metrics may
// be nil; the harness then runs without telemetry.
func NewRunner(cfg config.BacktestConfig, history domain.Series, factory ForecasterFactory, priors PriorFn, metrics *telemetry.Metrics) *Runner {
	return &Runner{
		cfg:     cfg,
		history: history,
		factory: factory,
		priors:  priors,
		metrics: metrics,
	}
}

func (r *Runner) countCutoff(outcome string) {
	if r.metrics != nil {
		r.metrics.CutoffsTotal.WithLabelValues(outcome).Inc()
	}
}

// cutoffPartition is one worker's private output slot. Partition-by-cutoff
// keeps appends uncoordinated; the merge step is the single writer.
type cutoffPartition struct {
	rows     []domain.PredictionRow
	failures []*domain.ForecasterError
	skipped  bool
}

// Run evaluates every cutoff on a bounded worker pool. A forecaster failure
// at one cutoff never aborts the run; the failure is recorded and the
// remaining cutoffs and models stay valid.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cutoffs := GenerateCutoffs(r.cfg.MinTrainDays, r.cfg.StepDays, r.history.Start(), r.history.End())
	if len(cutoffs) == 0 {
		log.Warn().
			Int("min_train_days", r.cfg.MinTrainDays).
			Time("history_start", r.history.Start()).
			Time("history_end", r.history.End()).
			Msg("History too short for any backtest cutoff")
		return &Result{}, nil
	}

	workers := r.cfg.Parallelism
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > 8 {
			workers = 8
		}
	}
	if workers > len(cutoffs) {
		workers = len(cutoffs)
	}

	log.Info().
		Int("cutoffs", len(cutoffs)).
		Int("workers", workers).
		Time("first", cutoffs[0]).
		Time("last", cutoffs[len(cutoffs)-1]).
		Msg("Backtest starting")

	partitions := make([]cutoffPartition, len(cutoffs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				partitions[idx] = r.evaluateCutoff(ctx, cutoffs[idx])
			}
		}()
	}
	for idx := range cutoffs {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	result := &Result{Cutoffs: len(cutoffs)}
	for _, part := range partitions {
		if part.skipped {
			result.Skipped++
			continue
		}
		result.Rows = append(result.Rows, part.rows...)
		result.Failures = append(result.Failures, part.failures...)
		result.Failed += len(part.failures)
	}

	log.Info().
		Int("rows", len(result.Rows)).
		Int("skipped", result.Skipped).
		Int("failures", result.Failed).
		Msg("Backtest complete")
	return result, nil
}

// evaluateCutoff runs one fit/predict cycle per forecaster at cutoff T.
// Training data is truncated to ds <= T before any model sees it; nothing
// past T ever reaches a forecaster, directly or through priors.
func (r *Runner) evaluateCutoff(ctx context.Context, cutoff time.Time) cutoffPartition {
	var part cutoffPartition

	hEval := domain.DaysBetween(cutoff, r.history.End())
	if hEval > r.cfg.MaxHorizonDays {
		hEval = r.cfg.MaxHorizonDays
	}
	if hEval <= 0 {
		log.Info().Time("cutoff", cutoff).Msg("Cutoff has no evaluable days, skipping")
		r.countCutoff("skipped")
		part.skipped = true
		return part
	}

	train := r.history.TruncateTo(cutoff)
	futureActuals := futureByDate(r.history, cutoff)

	targets := make([]time.Time, hEval)
	for i := range targets {
		targets[i] = cutoff.AddDate(0, 0, i+1)
	}

	forecasters, err := r.factory()
	if err != nil {
		log.Error().Err(err).Time("cutoff", cutoff).Msg("Forecaster construction failed")
		r.countCutoff("failed")
		part.failures = append(part.failures, &domain.ForecasterError{
			Model: "all", Cutoff: cutoff, Stage: "build", Err: err,
		})
		return part
	}

	var priors map[string]domain.UpliftPrior
	if r.priors != nil {
		priors = r.priors(cutoff)
		log.Debug().Time("cutoff", cutoff).Int("families", len(priors)).
			Msg("Out-of-fold uplift priors computed")
	}

	succeeded := 0
	for _, f := range forecasters {
		rows, ferr := r.evaluateModel(ctx, f, cutoff, train, targets, futureActuals, priors)
		if ferr != nil {
			log.Warn().Err(ferr.Err).
				Str("model", ferr.Model).
				Time("cutoff", cutoff).
				Str("stage", ferr.Stage).
				Msg("Forecaster failed at cutoff, continuing")
			part.failures = append(part.failures, ferr)
			continue
		}
		part.rows = append(part.rows, rows...)
		succeeded++
	}

	if succeeded == 0 {
		r.countCutoff("failed")
	} else {
		r.countCutoff("ok")
	}
	return part
}

// evaluateModel fits and predicts one forecaster at one cutoff, joining each
// prediction against the realized actual for its target date. Target dates
// with no recorded observation are dropped, matching the evaluation panel to
// the days a label exists for.
func (r *Runner) evaluateModel(
	ctx context.Context,
	f models.Forecaster,
	cutoff time.Time,
	train domain.Series,
	targets []time.Time,
	futureActuals map[time.Time]domain.Observation,
	priors map[string]domain.UpliftPrior,
) ([]domain.PredictionRow, *domain.ForecasterError) {
	if aware, ok := f.(EventAware); ok && priors != nil {
		aware.SetEventPriors(priors)
	}

	fitStart := time.Now()
	if err := f.Fit(ctx, train); err != nil {
		return nil, &domain.ForecasterError{Model: f.Name(), Cutoff: cutoff, Stage: "fit", Err: err}
	}
	if r.metrics != nil {
		r.metrics.FitDuration.WithLabelValues(f.Name()).Observe(time.Since(fitStart).Seconds())
	}

	predictStart := time.Now()
	points, err := f.Predict(ctx, cutoff, targets)
	if err != nil {
		return nil, &domain.ForecasterError{Model: f.Name(), Cutoff: cutoff, Stage: "predict", Err: err}
	}
	if r.metrics != nil {
		r.metrics.PredictDuration.WithLabelValues(f.Name()).Observe(time.Since(predictStart).Seconds())
	}

	rows := make([]domain.PredictionRow, 0, len(points))
	for _, point := range points {
		obs, ok := futureActuals[point.DS]
		if !ok {
			continue
		}
		horizon := domain.DaysBetween(cutoff, point.DS)
		bucket, ok := domain.BucketForHorizon(horizon)
		if !ok {
			continue
		}
		rows = append(rows, domain.PredictionRow{
			Cutoff:        cutoff,
			ModelName:     f.Name(),
			IssueDate:     cutoff,
			TargetDate:    point.DS,
			Horizon:       horizon,
			HorizonBucket: bucket,
			P50:           point.P50,
			P80:           point.P80,
			P90:           point.P90,
			Y:             obs.Y,
			IsClosed:      obs.IsClosed,
		})
	}
	return rows, nil
}

// futureByDate indexes the observations strictly after the cutoff; these are
// labels for joining, never inputs to a forecaster.
func futureByDate(history domain.Series, cutoff time.Time) map[time.Time]domain.Observation {
	out := make(map[time.Time]domain.Observation)
	for _, obs := range history {
		if obs.DS.After(domain.Day(cutoff)) {
			out[obs.DS] = obs
		}
	}
	return out
}
