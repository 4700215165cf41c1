package domain

import (
	"sort"
	"time"
)

// Observation is one day of realized sales history. Immutable once ingested;
// a day is closed when its net sales fall below the configured threshold or
// the hours calendar marks it closed.
type Observation struct {
	DS       time.Time `json:"ds"`
	Y        float64   `json:"y"`
	IsClosed bool      `json:"is_closed"`
}

// Series is an ordered run of daily observations, ascending by DS.
type Series []Observation

// Day normalizes a timestamp to a calendar date (UTC midnight). All dates in
// the pipeline are normalized through this so they compare and hash cleanly.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole-day difference b - a.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// Start returns the first observation date, zero when the series is empty.
func (s Series) Start() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].DS
}

// End returns the last observation date, zero when the series is empty.
func (s Series) End() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].DS
}

// TruncateTo returns the prefix of the series with DS <= dsMax. The result
// shares backing storage with the receiver; callers must not mutate it.
func (s Series) TruncateTo(dsMax time.Time) Series {
	cut := Day(dsMax)
	n := sort.Search(len(s), func(i int) bool { return s[i].DS.After(cut) })
	return s[:n]
}

// ByDate indexes the series by normalized date.
func (s Series) ByDate() map[time.Time]Observation {
	m := make(map[time.Time]Observation, len(s))
	for _, obs := range s {
		m[obs.DS] = obs
	}
	return m
}

// OpenValues returns the Y values of open days, in series order.
func (s Series) OpenValues() []float64 {
	vals := make([]float64, 0, len(s))
	for _, obs := range s {
		if !obs.IsClosed {
			vals = append(vals, obs.Y)
		}
	}
	return vals
}

// Sort orders the series ascending by DS in place.
func (s Series) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].DS.Before(s[j].DS) })
}

// MissingDates returns calendar dates absent between the series start and end.
func (s Series) MissingDates() []time.Time {
	if len(s) < 2 {
		return nil
	}
	seen := s.ByDate()
	var missing []time.Time
	for d := s.Start(); !d.After(s.End()); d = d.AddDate(0, 0, 1) {
		if _, ok := seen[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

// Median returns the median of vals, 0 when empty. Input is not mutated.
func Median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Mean returns the arithmetic mean of vals, 0 when empty.
func Mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Quantile returns the q-th empirical quantile (linear interpolation between
// order statistics), matching the convention used for peak-day thresholds.
func Quantile(vals []float64, q float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
