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
	"github.com/demandcast/demandcast/internal/cache"
	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/ensemble"
	"github.com/demandcast/demandcast/internal/ingest"
	plog "github.com/demandcast/demandcast/internal/log"
	"github.com/demandcast/demandcast/internal/models"
	"github.com/demandcast/demandcast/internal/telemetry"
	"github.com/demandcast/demandcast/internal/uplift"
)

// RunSteps names the phases of a full pipeline run, in order.
var RunSteps = []string{
	"configure",
	"ingest",
	"backtest",
	"metrics",
	"priors",
	"fit",
	"assemble",
	"artifacts",
	"runlog",
}

// Options modifies how a run executes.
type Options struct {
	// DryRun computes everything but writes only the run log.
	DryRun bool
	// SkipFoundation drops the foundation model from the candidate set even
	// when configuration enables it.
	SkipFoundation bool
	// ReusePredictions skips the backtest and loads the newest run's
	// prediction artifacts instead.
	ReusePredictions bool
}

// Pipeline executes forecast runs.
type Pipeline struct {
	cfg      *config.Config
	metrics  *telemetry.Metrics
	bus      *Bus
	cache    cache.Cache
	progress plog.Mode
	pg       mirrorState
}

// New wires a pipeline. bus may not be nil; pass a fresh one when nothing
// listens.
func New(cfg *config.Config, metrics *telemetry.Metrics, bus *Bus, c cache.Cache, progress plog.Mode) *Pipeline {
	return &Pipeline{cfg: cfg, metrics: metrics, bus: bus, cache: c, progress: progress}
}

// inputs bundles everything ingestion produces.
type inputs struct {
	history   domain.Series
	hours     *ingest.HoursCalendar
	events    *domain.EventCalendar
	overrides []domain.OverrideRecord
}

// Run executes the full pipeline and returns the run log.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*artifacts.RunLog, error) {
	runID := uuid.New().String()
	steps := plog.NewStepLogger(p.progress, RunSteps)
	p.bus.Publish(Event{Type: EventRunStarted, RunID: runID})
	log.Info().Str("run_id", runID).Bool("dry_run", opts.DryRun).Msg("Pipeline run starting")

	rl := artifacts.RunLog{RunID: runID, StartedAt: time.Now().UTC(), Status: "ok"}

	fail := func(step string, err error) (*artifacts.RunLog, error) {
		steps.Fail(err.Error())
		p.metrics.RunsTotal.WithLabelValues("failed").Inc()
		p.bus.Publish(Event{Type: EventRunFinished, RunID: runID, Message: err.Error()})
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	p.startStep(steps, runID, "configure")
	rl.ConfigHash = p.cfg.Hash()
	modelNames := p.modelNames(opts)
	if len(modelNames) == 0 {
		return fail("configure", fmt.Errorf("no usable models after filtering"))
	}
	p.completeStep(steps, runID, "configure")

	p.startStep(steps, runID, "ingest")
	in, err := p.ingest()
	if err != nil {
		return fail("ingest", err)
	}
	dataThrough := in.history.End()
	rl.DataThrough = dataThrough
	p.completeStep(steps, runID, "ingest")

	estimator := uplift.NewEstimator(p.cfg.Uplift, in.history, in.events, p.cache, p.cfg.Cache.DefaultTTL)
	factory := p.forecasterFactory(modelNames)

	p.startStep(steps, runID, "backtest")
	var predictions []domain.PredictionRow
	if opts.ReusePredictions {
		predictions, err = p.loadLatestPredictions()
		if err != nil {
			return fail("backtest", err)
		}
	} else {
		runner := backtest.NewRunner(p.cfg.Backtest, in.history, factory, estimator.ComputePriors, p.metrics)
		result, err := runner.Run(ctx)
		if err != nil {
			return fail("backtest", err)
		}
		predictions = result.Rows
		rl.CutoffsTotal = result.Cutoffs
		rl.CutoffsFailed = result.Failed
		for _, ferr := range result.Failures {
			p.bus.Publish(Event{
				Type: EventCutoffFailed, RunID: runID, Step: "backtest",
				Message: ferr.Error(),
				Fields:  map[string]string{"model": ferr.Model, "cutoff": ferr.Cutoff.Format("2006-01-02")},
			})
		}
	}
	p.completeStep(steps, runID, "backtest")

	p.startStep(steps, runID, "metrics")
	bucketMetrics := backtest.ComputeBucketMetrics(predictions)
	peakMetrics := backtest.ComputePeakMetrics(predictions, p.cfg.Backtest.PeakPercentile)
	for _, m := range bucketMetrics {
		p.metrics.BucketWMAPE.WithLabelValues(m.ModelName, string(m.HorizonBucket)).Set(m.WMAPE)
	}
	p.completeStep(steps, runID, "metrics")

	p.startStep(steps, runID, "priors")
	priors := estimator.ComputePriors(dataThrough)
	p.completeStep(steps, runID, "priors")

	p.startStep(steps, runID, "fit")
	ws, err := p.fitWeights(predictions, runID)
	if err != nil {
		return fail("fit", err)
	}
	p.completeStep(steps, runID, "fit")

	p.startStep(steps, runID, "assemble")
	forecasts, err := p.productionForecasts(ctx, factory, in.history, dataThrough, priors)
	if err != nil {
		return fail("assemble", err)
	}
	guardrails := assemble.NewGuardrails(in.hours, p.metrics)
	overlay := assemble.NewOverlay(in.events, priors)
	assembler := assemble.NewAssembler(ws, guardrails, in.hours, p.cfg.Calibration, overlay)
	forecastRows, err := assembler.Assemble(forecasts, dataThrough, p.cfg.Forecast.HorizonDays, in.history, in.overrides)
	if err != nil {
		return fail("assemble", err)
	}
	rl.RowsWritten = len(forecastRows)
	p.completeStep(steps, runID, "assemble")

	writer := artifacts.NewWriter(p.cfg.Output.Dir, runID)

	p.startStep(steps, runID, "artifacts")
	if opts.DryRun {
		log.Info().Msg("Dry run, skipping artifact writes")
	} else {
		if err := p.writeArtifacts(writer, predictions, ws, priors, forecastRows, bucketMetrics, peakMetrics); err != nil {
			return fail("artifacts", err)
		}
		for _, name := range writer.Written() {
			p.bus.Publish(Event{Type: EventArtifactWritten, RunID: runID, Step: "artifacts", Message: name})
		}
		p.mirror(ctx, runID, predictions, ws, forecastRows)
	}
	p.completeStep(steps, runID, "artifacts")

	p.startStep(steps, runID, "runlog")
	rl.FinishedAt = time.Now().UTC()
	if err := writer.WriteRunLog(rl); err != nil {
		return fail("runlog", err)
	}
	p.mirrorRunLog(ctx, rl)
	p.metrics.RunsTotal.WithLabelValues("ok").Inc()
	p.completeStep(steps, runID, "runlog")

	steps.Finish()
	p.bus.Publish(Event{Type: EventRunFinished, RunID: runID})
	log.Info().Str("run_id", runID).Int("forecast_rows", len(forecastRows)).Msg("Pipeline run complete")
	return &rl, nil
}

func (p *Pipeline) startStep(sl *plog.StepLogger, runID, name string) {
	sl.StartStep(name)
	p.bus.Publish(Event{Type: EventStepStarted, RunID: runID, Step: name})
}

func (p *Pipeline) completeStep(sl *plog.StepLogger, runID, name string) {
	sl.CompleteStep()
	p.bus.Publish(Event{Type: EventStepCompleted, RunID: runID, Step: name})
}

// modelNames filters the configured candidates down to the usable set.
func (p *Pipeline) modelNames(opts Options) []string {
	names := make([]string, 0, len(p.cfg.Forecast.ModelNames))
	for _, name := range p.cfg.Forecast.ModelNames {
		if name == models.NameFoundation {
			if opts.SkipFoundation {
				log.Info().Msg("Foundation model skipped by flag")
				continue
			}
			if !p.cfg.Models.Foundation.Enabled {
				log.Info().Msg("Foundation model disabled in configuration")
				continue
			}
		}
		names = append(names, name)
	}
	return names
}

func (p *Pipeline) ingest() (*inputs, error) {
	history, err := ingest.LoadSales(p.cfg.Data.SalesCSV, p.cfg.Data.ClosedThreshold)
	if err != nil {
		return nil, err
	}
	hours, err := ingest.LoadHours(p.cfg.Data.HoursCSV)
	if err != nil {
		return nil, err
	}
	events, err := ingest.LoadEvents(p.cfg.Data.EventsCSV)
	if err != nil {
		return nil, err
	}
	overrides, err := ingest.LoadOverrides(p.cfg.Data.OverridesYAML)
	if err != nil {
		return nil, err
	}
	return &inputs{history: history, hours: hours, events: events, overrides: overrides}, nil
}

// forecasterFactory builds fresh model instances and hooks the foundation
// client's request outcomes into the metrics registry.
func (p *Pipeline) forecasterFactory(names []string) backtest.ForecasterFactory {
	return func() ([]models.Forecaster, error) {
		forecasters, err := models.Build(names, p.cfg.Models, p.cache)
		if err != nil {
			return nil, err
		}
		for _, f := range forecasters {
			if foundation, ok := f.(*models.Foundation); ok {
				foundation.OnOutcome = func(outcome string) {
					p.metrics.FoundationRequests.WithLabelValues(outcome).Inc()
				}
			}
		}
		return forecasters, nil
	}
}

func (p *Pipeline) loadLatestPredictions() ([]domain.PredictionRow, error) {
	dir, err := artifacts.LatestRunDir(p.cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("no previous run found under %s to reuse predictions from", p.cfg.Output.Dir)
	}
	rows, err := artifacts.ReadPredictions(dir)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("previous run %s holds no prediction rows", dir)
	}
	log.Info().Str("dir", dir).Int("rows", len(rows)).Msg("Reusing prediction artifacts")
	return rows, nil
}

// productionForecasts fits every model on the full history and predicts the
// production window. A single model failing is logged and excluded; the run
// fails only when no model produces a forecast.
func (p *Pipeline) productionForecasts(
	ctx context.Context,
	factory backtest.ForecasterFactory,
	history domain.Series,
	dataThrough time.Time,
	priors map[string]domain.UpliftPrior,
) ([]assemble.ModelForecast, error) {
	forecasters, err := factory()
	if err != nil {
		return nil, err
	}

	targets := make([]time.Time, p.cfg.Forecast.HorizonDays)
	for i := range targets {
		targets[i] = domain.Day(dataThrough).AddDate(0, 0, i+1)
	}

	out := make([]assemble.ModelForecast, 0, len(forecasters))
	for _, f := range forecasters {
		if aware, ok := f.(backtest.EventAware); ok && priors != nil {
			aware.SetEventPriors(priors)
		}
		if err := f.Fit(ctx, history); err != nil {
			log.Warn().Err(err).Str("model", f.Name()).Msg("Production fit failed, excluding model")
			continue
		}
		points, err := f.Predict(ctx, dataThrough, targets)
		if err != nil {
			log.Warn().Err(err).Str("model", f.Name()).Msg("Production predict failed, excluding model")
			continue
		}
		byDate := make(map[time.Time]domain.QuantilePoint, len(points))
		for _, point := range points {
			byDate[point.DS] = point
		}
		out = append(out, assemble.ModelForecast{Name: f.Name(), Points: byDate})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("every model failed to produce a forecast")
	}
	return out, nil
}

func (p *Pipeline) fitWeights(predictions []domain.PredictionRow, runID string) (*domain.WeightSet, error) {
	return ensemble.NewFitter(p.cfg.Ensemble).Fit(predictions, runID)
}

func (p *Pipeline) writeArtifacts(
	w *artifacts.Writer,
	predictions []domain.PredictionRow,
	ws *domain.WeightSet,
	priors map[string]domain.UpliftPrior,
	forecastRows []domain.ForecastRow,
	bucketMetrics []backtest.BucketMetrics,
	peakMetrics []backtest.PeakMetrics,
) error {
	if err := w.WritePredictions(predictions); err != nil {
		return err
	}
	if err := w.WriteWeights(ws); err != nil {
		return err
	}
	if err := w.WritePriors(priors); err != nil {
		return err
	}
	if err := w.WriteForecast(forecastRows); err != nil {
		return err
	}
	if err := w.WriteBucketMetrics(bucketMetrics); err != nil {
		return err
	}
	if err := w.WritePeakMetrics(peakMetrics); err != nil {
		return err
	}
	if err := w.WriteOrderingRollup(forecastRows); err != nil {
		return err
	}
	return w.WriteSchedulingRollup(forecastRows)
}
