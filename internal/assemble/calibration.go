package assemble

import (
	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
)

// Calibrator rescales the open-day forecast so its p50 total grows by a
// configured year-over-year target against the same calendar window last
// year. Spike days keep their raw values so the scale is not distorted by a
// few event-driven outliers, and the scale itself is clamped to a sane band.
type Calibrator struct {
	cfg config.CalibrationConfig
}

// NewCalibrator returns a calibrator; a nil target_yoy disables it entirely.
func NewCalibrator(cfg config.CalibrationConfig) *Calibrator {
	return &Calibrator{cfg: cfg}
}

// Apply returns rows scaled toward the growth target, or the input untouched
// when calibration is disabled, last-year coverage is too thin, or there is
// nothing to scale. Closed days and spike days are never scaled.
func (c *Calibrator) Apply(rows []domain.ForecastRow, history domain.Series) []domain.ForecastRow {
	if c.cfg.TargetYoY == nil || len(rows) == 0 {
		return rows
	}

	lastYearTotal, coverage := c.lastYearOpenTotal(rows, history)
	if coverage < c.cfg.MinCoverage {
		log.Warn().
			Float64("coverage", coverage).
			Float64("min_coverage", c.cfg.MinCoverage).
			Msg("Growth calibration skipped, last-year window coverage too thin")
		return rows
	}

	spikeThreshold := c.spikeThreshold(rows)
	var spikeTotal, scalableTotal float64
	for _, row := range rows {
		if row.IsClosed {
			continue
		}
		if row.P50 > spikeThreshold {
			spikeTotal += row.P50
		} else {
			scalableTotal += row.P50
		}
	}
	if scalableTotal <= 0 {
		return rows
	}

	target := (1 + *c.cfg.TargetYoY) * lastYearTotal
	scale := (target - spikeTotal) / scalableTotal
	if scale < c.cfg.MinScale {
		scale = c.cfg.MinScale
	}
	if scale > c.cfg.MaxScale {
		scale = c.cfg.MaxScale
	}

	log.Info().
		Float64("scale", scale).
		Float64("target_yoy", *c.cfg.TargetYoY).
		Float64("last_year_total", lastYearTotal).
		Msg("Growth calibration applied")

	out := make([]domain.ForecastRow, len(rows))
	for i, row := range rows {
		if !row.IsClosed && row.P50 <= spikeThreshold {
			row.P50 *= scale
			row.P80 *= scale
			row.P90 *= scale
		}
		out[i] = row
	}
	return out
}

// lastYearOpenTotal sums open-day actuals over the forecast window shifted
// one year back, and reports what fraction of that window history covers.
func (c *Calibrator) lastYearOpenTotal(rows []domain.ForecastRow, history domain.Series) (total float64, coverage float64) {
	byDate := history.ByDate()
	var covered int
	for _, row := range rows {
		lastYear := row.DS.AddDate(-1, 0, 0)
		obs, ok := byDate[lastYear]
		if !ok {
			continue
		}
		covered++
		if !obs.IsClosed {
			total += obs.Y
		}
	}
	return total, float64(covered) / float64(len(rows))
}

// spikeThreshold marks event-scale days: p50 above the configured multiple
// of the open-day median p50.
func (c *Calibrator) spikeThreshold(rows []domain.ForecastRow) float64 {
	var open []float64
	for _, row := range rows {
		if !row.IsClosed {
			open = append(open, row.P50)
		}
	}
	return c.cfg.SpikeMultiplier * domain.Median(open)
}
