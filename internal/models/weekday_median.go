package models

import (
	"context"
	"fmt"
	"time"

	"github.com/demandcast/demandcast/internal/domain"
)

// WeekdayMedian forecasts each day as the median of the most recent open
// observations on the same weekday. Robust to single-day spikes; used both as
// a candidate model and as the stability anchor in the ensemble.
type WeekdayMedian struct {
	weeks      int
	byWeekday  map[time.Weekday][]float64 // open-day values, ascending by date
	openMedian float64
	fitted     bool
}

// NewWeekdayMedian returns a forecaster using the last `weeks` same-weekday
// open observations.
func NewWeekdayMedian(weeks int) *WeekdayMedian {
	return &WeekdayMedian{weeks: weeks}
}

func (m *WeekdayMedian) Name() string { return NameWeekdayMedian }

func (m *WeekdayMedian) Fit(_ context.Context, train domain.Series) error {
	if len(train) == 0 {
		return fmt.Errorf("weekday_median: empty training series")
	}
	m.byWeekday = make(map[time.Weekday][]float64, 7)
	for _, obs := range train {
		if obs.IsClosed {
			continue
		}
		wd := obs.DS.Weekday()
		m.byWeekday[wd] = append(m.byWeekday[wd], obs.Y)
	}
	m.openMedian = domain.Median(train.OpenValues())
	m.fitted = true
	return nil
}

func (m *WeekdayMedian) Predict(_ context.Context, issueDate time.Time, targetDates []time.Time) ([]domain.QuantilePoint, error) {
	if !m.fitted {
		return nil, fmt.Errorf("weekday_median: predict before fit")
	}
	points := make([]domain.QuantilePoint, 0, len(targetDates))
	for _, ds := range targetDates {
		ds = domain.Day(ds)
		val := m.weekdayMedian(ds.Weekday())
		points = append(points, domain.QuantilePoint{DS: ds, P50: val, P80: val, P90: val})
	}
	return points, nil
}

func (m *WeekdayMedian) weekdayMedian(wd time.Weekday) float64 {
	vals := m.byWeekday[wd]
	if len(vals) == 0 {
		return m.openMedian
	}
	if len(vals) > m.weeks {
		vals = vals[len(vals)-m.weeks:]
	}
	return domain.Median(vals)
}
