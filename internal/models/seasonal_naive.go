package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/demandcast/demandcast/internal/domain"
)

// SeasonalNaive forecasts each day as the value seven days earlier. When the
// lag date falls beyond the last actual (inside the still-unrealized window),
// it reuses its own earlier forecast through an explicit forward-fill buffer
// built in date order within a single Predict call. Baseline model: the
// upper quantiles collapse onto p50.
type SeasonalNaive struct {
	actuals  map[time.Time]float64
	lastDS   time.Time
	openMean float64
	fitted   bool
}

// NewSeasonalNaive returns an unfitted seasonal-naive forecaster.
func NewSeasonalNaive() *SeasonalNaive { return &SeasonalNaive{} }

func (m *SeasonalNaive) Name() string { return NameSeasonalNaive }

// Fit indexes the training actuals and the open-day mean fallback.
func (m *SeasonalNaive) Fit(_ context.Context, train domain.Series) error {
	if len(train) == 0 {
		return fmt.Errorf("seasonal_naive: empty training series")
	}
	m.actuals = make(map[time.Time]float64, len(train))
	for ds, obs := range train.ByDate() {
		m.actuals[ds] = obs.Y
	}
	m.lastDS = train.End()
	m.openMean = domain.Mean(train.OpenValues())
	m.fitted = true
	return nil
}

// Predict walks the target dates in ascending order so that recursive lags
// always find an earlier forecast already in the buffer.
func (m *SeasonalNaive) Predict(_ context.Context, issueDate time.Time, targetDates []time.Time) ([]domain.QuantilePoint, error) {
	if !m.fitted {
		return nil, fmt.Errorf("seasonal_naive: predict before fit")
	}

	ordered := make([]time.Time, len(targetDates))
	for i, ds := range targetDates {
		ordered[i] = domain.Day(ds)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	buffer := make(map[time.Time]float64, len(ordered))
	points := make([]domain.QuantilePoint, 0, len(ordered))
	for _, ds := range ordered {
		val := m.lagValue(ds.AddDate(0, 0, -7), buffer)
		buffer[ds] = val
		points = append(points, domain.QuantilePoint{DS: ds, P50: val, P80: val, P90: val})
	}
	return points, nil
}

// lagValue resolves a lag date, preferring realized actuals, then the
// forecast buffer, then the open-day mean.
func (m *SeasonalNaive) lagValue(lag time.Time, buffer map[time.Time]float64) float64 {
	if !lag.After(m.lastDS) {
		if y, ok := m.actuals[lag]; ok {
			return y
		}
		// gap in history at the lag date
		return m.openMean
	}
	if val, ok := buffer[lag]; ok {
		return val
	}
	return m.openMean
}
