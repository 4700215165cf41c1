package artifacts

import (
	"time"

	"github.com/demandcast/demandcast/internal/domain"
)

// TruncationNote marks rollup windows that run past the forecast end, so a
// buyer reading the CSV knows the total covers fewer days than usual.
const TruncationNote = "window_truncated_at_forecast_end"

// RollupRow is one summed window of the daily forecast.
type RollupRow struct {
	WindowType string
	Start      time.Time
	End        time.Time
	Days       int
	P50        float64
	P80        float64
	P90        float64
	Note       string
}

// OrderingRollups sums the forecast into the two windows purchasing works
// with: 7-day Sunday through Saturday spans, and 8-day Wednesday through the
// following Wednesday spans (order day to order day, inclusive on both ends).
func OrderingRollups(rows []domain.ForecastRow) []RollupRow {
	out := rollWindows(rows, time.Sunday, 7, "sun_sat_7d")
	return append(out, rollWindows(rows, time.Wednesday, 8, "wed_wed_8d")...)
}

// SchedulingRollups sums the forecast into Wednesday through Tuesday weeks,
// matching the labor scheduling cycle.
func SchedulingRollups(rows []domain.ForecastRow) []RollupRow {
	return rollWindows(rows, time.Wednesday, 7, "wed_tue_7d")
}

// rollWindows anchors a window on each anchor-weekday in the forecast range
// and sums span consecutive days from it. Consecutive anchors are 7 days
// apart regardless of span, so 8-day windows overlap by one day.
func rollWindows(rows []domain.ForecastRow, anchor time.Weekday, span int, windowType string) []RollupRow {
	if len(rows) == 0 {
		return nil
	}

	byDate := make(map[time.Time]domain.ForecastRow, len(rows))
	first, last := rows[0].DS, rows[0].DS
	for _, row := range rows {
		byDate[row.DS] = row
		if row.DS.Before(first) {
			first = row.DS
		}
		if row.DS.After(last) {
			last = row.DS
		}
	}

	start := first
	for start.Weekday() != anchor {
		start = start.AddDate(0, 0, 1)
	}

	var out []RollupRow
	for ; !start.After(last); start = start.AddDate(0, 0, 7) {
		win := RollupRow{WindowType: windowType, Start: start, End: start.AddDate(0, 0, span-1)}
		for i := 0; i < span; i++ {
			row, ok := byDate[start.AddDate(0, 0, i)]
			if !ok {
				continue
			}
			win.Days++
			win.P50 += row.P50
			win.P80 += row.P80
			win.P90 += row.P90
		}
		if win.End.After(last) {
			win.Note = TruncationNote
		}
		out = append(out, win)
	}
	return out
}
