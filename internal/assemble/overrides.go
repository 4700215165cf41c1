package assemble

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/domain"
)

// ApplyOverrides applies operator adjustments to the assembled rows. The
// result is NOT safe to emit: callers must re-run the guardrail pass, which
// is what makes an override of -50 come out as 0 and a forced closure come
// out all-zero.
func ApplyOverrides(rows []domain.ForecastRow, overrides []domain.OverrideRecord) []domain.ForecastRow {
	if len(overrides) == 0 {
		return rows
	}

	byDate := make(map[time.Time][]domain.OverrideRecord, len(overrides))
	for _, rec := range overrides {
		byDate[rec.Date] = append(byDate[rec.Date], rec)
	}

	out := make([]domain.ForecastRow, len(rows))
	applied := 0
	for i, row := range rows {
		for _, rec := range byDate[row.DS] {
			row = applyOne(row, rec)
			applied++
		}
		out[i] = row
	}

	if applied < len(overrides) {
		log.Warn().
			Int("applied", applied).
			Int("total", len(overrides)).
			Msg("Some overrides target dates outside the forecast window")
	}
	if applied > 0 {
		log.Info().Int("overrides", applied).Msg("Operator overrides applied")
	}
	return out
}

func applyOne(row domain.ForecastRow, rec domain.OverrideRecord) domain.ForecastRow {
	switch rec.Type {
	case domain.OverrideForceClosed:
		row.P50, row.P80, row.P90 = 0, 0, 0
		row.IsClosed = true
		row.OpenMinutes = 0
	case domain.OverrideAbsolute:
		setQuantiles(&row, rec.Quantile, func(float64) float64 { return rec.Value })
	case domain.OverrideMultiplicative:
		setQuantiles(&row, rec.Quantile, func(v float64) float64 { return v * rec.Value })
	}
	return row
}

func setQuantiles(row *domain.ForecastRow, q domain.OverrideQuantile, f func(float64) float64) {
	if q == domain.QuantileP50 || q == domain.QuantileAll {
		row.P50 = f(row.P50)
	}
	if q == domain.QuantileP80 || q == domain.QuantileAll {
		row.P80 = f(row.P80)
	}
	if q == domain.QuantileP90 || q == domain.QuantileAll {
		row.P90 = f(row.P90)
	}
}
