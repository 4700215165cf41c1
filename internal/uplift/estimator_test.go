package uplift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demandcast/demandcast/internal/cache"
	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func upliftCfg() config.UpliftConfig {
	return config.UpliftConfig{
		LookbackWeeks: 8,
		ShrinkK:       10.0,
		Confidence:    config.ConfidenceConfig{HighMin: 5, MediumMin: 2, LowMin: 1},
	}
}

// flatHistory builds a contiguous series with constant open-day sales.
func flatHistory(start, end string, y float64) domain.Series {
	var s domain.Series
	for d := day(start); !d.After(day(end)); d = d.AddDate(0, 0, 1) {
		s = append(s, domain.Observation{DS: d, Y: y})
	}
	return s
}

func setY(s domain.Series, ds string, y float64) {
	d := day(ds)
	for i := range s {
		if s[i].DS.Equal(d) {
			s[i].Y = y
			return
		}
	}
	panic("date not in series: " + ds)
}

func TestShrinkageScenario(t *testing.T) {
	// Eight identical same-weekday baselines of 1000 and one event day of
	// 1500: raw uplift 1.5; with n=1, k=10 the shrunk value is
	// (1/11)*1.5 + (10/11)*1.0.
	hist := flatHistory("2025-01-01", "2025-12-31", 1000)
	eventDay := "2025-09-06" // Saturday, with 8+ prior Saturdays in history
	setY(hist, eventDay, 1500)

	events := domain.NewEventCalendar([]domain.EventInstance{
		{Family: "street_fair", Start: day(eventDay), End: day(eventDay)},
	})

	est := NewEstimator(upliftCfg(), hist, events, nil, 0)
	priors := est.ComputePriors(day("2025-12-31"))

	prior, ok := priors["street_fair"]
	require.True(t, ok)
	require.NotNil(t, prior.UpliftMeanRaw)
	require.NotNil(t, prior.UpliftMeanShrunk)

	assert.InDelta(t, 1.5, *prior.UpliftMeanRaw, 1e-12)
	assert.InDelta(t, (1.0/11.0)*1.5+(10.0/11.0)*1.0, *prior.UpliftMeanShrunk, 1e-12)
	assert.Equal(t, 1, prior.NDays)
	assert.Equal(t, domain.ConfidenceLow, prior.Confidence)
}

func TestPriorsArePureFunctionOfDsMax(t *testing.T) {
	hist := flatHistory("2024-01-01", "2025-12-31", 1000)
	setY(hist, "2025-07-12", 1800)
	events := domain.NewEventCalendar([]domain.EventInstance{
		{Family: "festival", Start: day("2025-07-12"), End: day("2025-07-12")},
	})

	est := NewEstimator(upliftCfg(), hist, events, nil, 0)
	first := est.ComputePriors(day("2025-12-31"))
	second := est.ComputePriors(day("2025-12-31"))
	assert.Equal(t, first, second)
}

func TestLeakageSafety(t *testing.T) {
	// The 2025 occurrence lies past dsMax and outside the primary window;
	// only the realized 2024 occurrence may contribute.
	hist := flatHistory("2024-01-01", "2025-12-31", 1000)
	setY(hist, "2024-10-05", 1400) // Saturday, 2024 occurrence

	events := domain.NewEventCalendar([]domain.EventInstance{
		{Family: "harvest", Start: day("2024-10-05"), End: day("2024-10-05")},
		{Family: "harvest", Start: day("2025-10-04"), End: day("2025-10-04")},
	})

	est := NewEstimator(upliftCfg(), hist, events, nil, 0)
	priors := est.ComputePriors(day("2025-06-30"))

	prior := priors["harvest"]
	require.NotNil(t, prior.UpliftMeanRaw)
	assert.InDelta(t, 1.4, *prior.UpliftMeanRaw, 1e-12)
	assert.Equal(t, 1, prior.NDays)
}

func TestMissingAfterFallback(t *testing.T) {
	hist := flatHistory("2025-01-01", "2025-12-31", 1000)
	// Event exists only in 2026, entirely beyond the history.
	events := domain.NewEventCalendar([]domain.EventInstance{
		{Family: "future_expo", Start: day("2026-05-01"), End: day("2026-05-02")},
	})

	est := NewEstimator(upliftCfg(), hist, events, nil, 0)
	priors := est.ComputePriors(day("2025-12-31"))

	prior := priors["future_expo"]
	assert.Nil(t, prior.UpliftMeanRaw)
	assert.Nil(t, prior.UpliftMeanShrunk)
	assert.Equal(t, 0, prior.NDays)
	assert.Equal(t, domain.ConfidenceMissing, prior.Confidence)
}

func TestClosedDaysExcludedFromBaseline(t *testing.T) {
	hist := flatHistory("2025-01-01", "2025-12-31", 1000)
	// Close the Saturday one week before the event; the baseline must skip
	// it and keep walking back for open Saturdays.
	for i := range hist {
		if hist[i].DS.Equal(day("2025-08-30")) {
			hist[i].IsClosed = true
			hist[i].Y = 0
		}
	}
	setY(hist, "2025-09-06", 1500)

	events := domain.NewEventCalendar([]domain.EventInstance{
		{Family: "street_fair", Start: day("2025-09-06"), End: day("2025-09-06")},
	})

	est := NewEstimator(upliftCfg(), hist, events, nil, 0)
	priors := est.ComputePriors(day("2025-12-31"))

	prior := priors["street_fair"]
	require.NotNil(t, prior.UpliftMeanRaw)
	assert.InDelta(t, 1.5, *prior.UpliftMeanRaw, 1e-12)
}

func TestMemoizationRoundTrips(t *testing.T) {
	hist := flatHistory("2025-01-01", "2025-12-31", 1000)
	setY(hist, "2025-09-06", 1500)
	events := domain.NewEventCalendar([]domain.EventInstance{
		{Family: "street_fair", Start: day("2025-09-06"), End: day("2025-09-06")},
	})

	est := NewEstimator(upliftCfg(), hist, events, cache.New(), time.Minute)
	first := est.ComputePriors(day("2025-12-31"))
	second := est.ComputePriors(day("2025-12-31"))
	assert.Equal(t, first, second)
}

func TestConfidenceBuckets(t *testing.T) {
	cases := []struct {
		n    int
		want domain.ConfidenceBucket
	}{
		{0, domain.ConfidenceMissing},
		{1, domain.ConfidenceLow},
		{2, domain.ConfidenceMedium},
		{4, domain.ConfidenceMedium},
		{5, domain.ConfidenceHigh},
		{9, domain.ConfidenceHigh},
	}
	est := NewEstimator(upliftCfg(), nil, domain.NewEventCalendar(nil), nil, 0)
	for _, tc := range cases {
		assert.Equal(t, tc.want, est.confidence(tc.n), "n=%d", tc.n)
	}
}
