package backtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/models"
	"github.com/demandcast/demandcast/internal/telemetry"
)

func history(start string, days int, y func(i int) float64) domain.Series {
	s := make(domain.Series, days)
	d := day(start)
	for i := 0; i < days; i++ {
		s[i] = domain.Observation{DS: d.AddDate(0, 0, i), Y: y(i), IsClosed: y(i) < 200}
	}
	return s
}

// trainRecorder captures what each Fit call was allowed to see.
type trainRecorder struct {
	mu       sync.Mutex
	trainEnd map[time.Time]time.Time // cutoff -> last training ds
}

// stubForecaster predicts a constant and records its training window.
type stubForecaster struct {
	name     string
	constant float64
	failAt   time.Time
	recorder *trainRecorder

	cutoff time.Time
}

func (s *stubForecaster) Name() string { return s.name }

func (s *stubForecaster) Fit(_ context.Context, train domain.Series) error {
	s.cutoff = train.End()
	if s.recorder != nil {
		s.recorder.mu.Lock()
		s.recorder.trainEnd[train.End()] = train.End()
		s.recorder.mu.Unlock()
	}
	return nil
}

func (s *stubForecaster) Predict(_ context.Context, issueDate time.Time, targets []time.Time) ([]domain.QuantilePoint, error) {
	if !s.failAt.IsZero() && issueDate.Equal(s.failAt) {
		return nil, fmt.Errorf("stub failure at %s", issueDate.Format("2006-01-02"))
	}
	points := make([]domain.QuantilePoint, len(targets))
	for i, ds := range targets {
		points[i] = domain.QuantilePoint{DS: ds, P50: s.constant, P80: s.constant, P90: s.constant}
	}
	return points, nil
}

func backtestCfg() config.BacktestConfig {
	return config.BacktestConfig{MinTrainDays: 60, StepDays: 14, MaxHorizonDays: 380, Parallelism: 4}
}

func TestHarnessProducesLeakageSafeRows(t *testing.T) {
	hist := history("2025-01-01", 150, func(i int) float64 { return 1000 })
	factory := func() ([]models.Forecaster, error) {
		return []models.Forecaster{&stubForecaster{name: "stub", constant: 900}}, nil
	}

	runner := NewRunner(backtestCfg(), hist, factory, nil, telemetry.New())
	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, result.Rows)
	assert.Zero(t, result.Failed)

	for _, row := range result.Rows {
		assert.True(t, row.TargetDate.After(row.Cutoff),
			"target %s not after cutoff %s", row.TargetDate, row.Cutoff)
		assert.Equal(t, row.Cutoff, row.IssueDate)
		assert.Equal(t, domain.DaysBetween(row.IssueDate, row.TargetDate), row.Horizon)
		bucket, ok := domain.BucketForHorizon(row.Horizon)
		require.True(t, ok)
		assert.Equal(t, bucket, row.HorizonBucket)
		assert.Equal(t, 1000.0, row.Y)
	}
}

func TestHarnessTrainWindowNeverPassesCutoff(t *testing.T) {
	hist := history("2025-01-01", 150, func(i int) float64 { return 1000 })
	rec := &trainRecorder{trainEnd: make(map[time.Time]time.Time)}
	factory := func() ([]models.Forecaster, error) {
		return []models.Forecaster{&stubForecaster{name: "stub", constant: 900, recorder: rec}}, nil
	}

	runner := NewRunner(backtestCfg(), hist, factory, nil, telemetry.New())
	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	cutoffs := make(map[time.Time]bool)
	for _, row := range result.Rows {
		cutoffs[row.Cutoff] = true
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for cutoff := range cutoffs {
		end, ok := rec.trainEnd[cutoff]
		require.True(t, ok, "no fit recorded ending at cutoff %s", cutoff)
		assert.False(t, end.After(cutoff))
	}
}

func TestHarnessIsolatesForecasterFailures(t *testing.T) {
	hist := history("2025-01-01", 150, func(i int) float64 { return 1000 })
	failCutoff := day("2025-03-02") // first cutoff: Jan 1 + 60d
	factory := func() ([]models.Forecaster, error) {
		return []models.Forecaster{
			&stubForecaster{name: "flaky", constant: 900, failAt: failCutoff},
			&stubForecaster{name: "steady", constant: 950},
		}, nil
	}

	runner := NewRunner(backtestCfg(), hist, factory, nil, telemetry.New())
	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "flaky", result.Failures[0].Model)
	assert.Equal(t, failCutoff, result.Failures[0].Cutoff)

	// The steady model still has rows at the failed cutoff, and flaky has
	// rows everywhere else.
	var steadyAtFailed, flakyElsewhere int
	for _, row := range result.Rows {
		if row.ModelName == "steady" && row.Cutoff.Equal(failCutoff) {
			steadyAtFailed++
		}
		if row.ModelName == "flaky" && !row.Cutoff.Equal(failCutoff) {
			flakyElsewhere++
		}
	}
	assert.Positive(t, steadyAtFailed)
	assert.Positive(t, flakyElsewhere)
}

// priorAware verifies the harness hands out-of-fold priors to capable models.
type priorAware struct {
	stubForecaster
	mu   sync.Mutex
	seen []time.Time
}

func (p *priorAware) SetEventPriors(priors map[string]domain.UpliftPrior) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for range priors {
		p.seen = append(p.seen, time.Time{})
	}
}

func TestHarnessFeedsOutOfFoldPriors(t *testing.T) {
	hist := history("2025-01-01", 120, func(i int) float64 { return 1000 })

	var mu sync.Mutex
	asked := make(map[time.Time]bool)
	priors := func(dsMax time.Time) map[string]domain.UpliftPrior {
		mu.Lock()
		asked[dsMax] = true
		mu.Unlock()
		raw := 1.2
		return map[string]domain.UpliftPrior{
			"street_fair": {EventFamily: "street_fair", UpliftMeanRaw: &raw, NDays: 3, Confidence: domain.ConfidenceMedium},
		}
	}

	aware := &priorAware{stubForecaster: stubForecaster{name: "aware", constant: 800}}
	factory := func() ([]models.Forecaster, error) {
		return []models.Forecaster{aware}, nil
	}

	cfg := config.BacktestConfig{MinTrainDays: 60, StepDays: 14, MaxHorizonDays: 380, Parallelism: 1}
	runner := NewRunner(cfg, hist, factory, priors, telemetry.New())
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	// Priors were recomputed at every cutoff, keyed by the cutoff itself.
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, asked)
	for dsMax := range asked {
		assert.True(t, dsMax.Before(hist.End()))
	}
	assert.NotEmpty(t, aware.seen)
}

func TestHarnessRunsWithoutMetrics(t *testing.T) {
	hist := history("2025-01-01", 150, func(i int) float64 { return 1000 })
	factory := func() ([]models.Forecaster, error) {
		return []models.Forecaster{&stubForecaster{name: "stub", constant: 900}}, nil
	}

	runner := NewRunner(backtestCfg(), hist, factory, nil, nil)
	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, result.Rows)
}

func TestRecursiveSeasonalNaiveThroughHarness(t *testing.T) {
	// Weekly pattern: the recursive naive should reproduce it far past the
	// one-week horizon by chaining its own forecasts.
	hist := history("2025-01-06", 140, func(i int) float64 {
		return 1000 + float64(i%7)*100
	})
	factory := func() ([]models.Forecaster, error) {
		return []models.Forecaster{models.NewSeasonalNaive()}, nil
	}

	cfg := config.BacktestConfig{MinTrainDays: 70, StepDays: 35, MaxHorizonDays: 60, Parallelism: 1}
	runner := NewRunner(cfg, hist, factory, nil, telemetry.New())
	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, result.Rows)

	for _, row := range result.Rows {
		// History is exactly weekly-periodic, so even recursive forecasts
		// beyond the first week must match the realized value.
		assert.InDelta(t, row.Y, row.P50, 1e-9,
			"model %s cutoff %s target %s", row.ModelName, row.Cutoff, row.TargetDate)
	}
}
