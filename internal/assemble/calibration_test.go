package assemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
)

func yoy(v float64) *float64 { return &v }

func calibCfg(target *float64) config.CalibrationConfig {
	return config.CalibrationConfig{
		TargetYoY:       target,
		SpikeMultiplier: 1.8,
		MinScale:        0.8,
		MaxScale:        1.25,
		MinCoverage:     0.6,
	}
}

func forecastWindow(start string, days int, p50 float64) []domain.ForecastRow {
	rows := make([]domain.ForecastRow, days)
	d := day(start)
	for i := range rows {
		rows[i] = domain.ForecastRow{DS: d.AddDate(0, 0, i), P50: p50, P80: p50 * 1.1, P90: p50 * 1.2}
	}
	return rows
}

func lastYearHistory(start string, days int, y float64) domain.Series {
	var s domain.Series
	d := day(start)
	for i := 0; i < days; i++ {
		s = append(s, domain.Observation{DS: d.AddDate(0, 0, i), Y: y})
	}
	return s
}

func TestCalibrationDisabledWhenTargetNil(t *testing.T) {
	rows := forecastWindow("2025-09-01", 10, 1000)
	out := NewCalibrator(calibCfg(nil)).Apply(rows, nil)
	assert.Equal(t, rows, out)
}

func TestCalibrationScalesTowardTarget(t *testing.T) {
	rows := forecastWindow("2025-09-01", 10, 1000)
	// Last year the same window did 1050/day; +4% target => 1092/day, but
	// the forecast says 1000/day. Expected scale 1.092.
	history := lastYearHistory("2024-09-01", 10, 1050)

	out := NewCalibrator(calibCfg(yoy(0.04))).Apply(rows, history)
	require.Len(t, out, 10)
	for _, row := range out {
		assert.InDelta(t, 1092.0, row.P50, 1e-9)
		assert.InDelta(t, 1092.0*1.1, row.P80, 1e-9)
	}
}

func TestCalibrationScaleClamped(t *testing.T) {
	rows := forecastWindow("2025-09-01", 10, 1000)
	// Raw scale would be 2.0; clamp to max_scale.
	history := lastYearHistory("2024-09-01", 10, 2000)

	out := NewCalibrator(calibCfg(yoy(0.0))).Apply(rows, history)
	for _, row := range out {
		assert.InDelta(t, 1250.0, row.P50, 1e-9)
	}
}

func TestCalibrationSkippedOnThinCoverage(t *testing.T) {
	rows := forecastWindow("2025-09-01", 10, 1000)
	// Only 3 of 10 last-year days exist.
	history := lastYearHistory("2024-09-01", 3, 1050)

	out := NewCalibrator(calibCfg(yoy(0.04))).Apply(rows, history)
	assert.Equal(t, rows, out)
}

func TestCalibrationLeavesSpikeDaysAlone(t *testing.T) {
	rows := forecastWindow("2025-09-01", 10, 1000)
	rows[4].P50 = 5000 // far above 1.8x median
	rows[4].P80 = 5500
	rows[4].P90 = 6000
	history := lastYearHistory("2024-09-01", 10, 1050)

	out := NewCalibrator(calibCfg(yoy(0.04))).Apply(rows, history)
	assert.Equal(t, 5000.0, out[4].P50)
	assert.Equal(t, 5500.0, out[4].P80)
	// Non-spike days still move.
	assert.NotEqual(t, 1000.0, out[0].P50)
}

func TestCalibrationIgnoresClosedDays(t *testing.T) {
	rows := forecastWindow("2025-09-01", 10, 1000)
	rows[2].IsClosed = true
	rows[2].P50, rows[2].P80, rows[2].P90 = 0, 0, 0
	history := lastYearHistory("2024-09-01", 10, 1050)

	out := NewCalibrator(calibCfg(yoy(0.04))).Apply(rows, history)
	assert.Zero(t, out[2].P50)
	assert.True(t, out[2].IsClosed)
}
