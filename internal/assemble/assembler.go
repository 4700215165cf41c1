package assemble

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/ingest"
)

// ModelForecast is one model's production forecast, indexed by target date.
type ModelForecast struct {
	Name   string
	Points map[time.Time]domain.QuantilePoint
}

// Assembler turns per-model forecasts into the final daily rows: blend,
// uplift overlay, guardrails, growth calibration, overrides, guardrails,
// verify.
type Assembler struct {
	weights    *domain.WeightSet
	guardrails *Guardrails
	calendar   *ingest.HoursCalendar
	calibrator *Calibrator
	overlay    *Overlay
}

// NewAssembler wires the assembly pipeline. overlay may be nil when no event
// priors exist.
func NewAssembler(weights *domain.WeightSet, guardrails *Guardrails, calendar *ingest.HoursCalendar, calCfg config.CalibrationConfig, overlay *Overlay) *Assembler {
	return &Assembler{
		weights:    weights,
		guardrails: guardrails,
		calendar:   calendar,
		calibrator: NewCalibrator(calCfg),
		overlay:    overlay,
	}
}

// Assemble produces exactly one row per date from dataThrough+1 for
// horizonDays days, with no gaps. history feeds the growth calibration's
// last-year comparison. The returned rows unconditionally satisfy
// 0 <= p50 <= p80 <= p90 and closed days are all-zero; a violation after the
// final pass aborts with a GuardrailError.
func (a *Assembler) Assemble(
	forecasts []ModelForecast,
	dataThrough time.Time,
	horizonDays int,
	history domain.Series,
	overrides []domain.OverrideRecord,
) ([]domain.ForecastRow, error) {
	rows := a.blend(forecasts, dataThrough, horizonDays)

	// The overlay runs before the first guardrail pass so a restored spike
	// still has its quantile ordering repaired.
	rows = a.overlay.Apply(rows)

	// First guardrail pass: blending each quantile independently gives no
	// ordering guarantee, so enforce invariants before anything reads rows.
	rows = a.guardrails.Apply(rows)

	rows = a.calibrator.Apply(rows, history)

	rows = ApplyOverrides(rows, overrides)

	// Second, identical pass: overrides may have broken any invariant.
	rows = a.guardrails.Apply(rows)

	if err := a.guardrails.Verify(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// blend computes each quantile independently as the bucket-weighted sum over
// the models that produced the date, with weights renormalized over present
// models. Dates no model covered become zero rows, logged as gaps.
func (a *Assembler) blend(forecasts []ModelForecast, dataThrough time.Time, horizonDays int) []domain.ForecastRow {
	dataThrough = domain.Day(dataThrough)
	rows := make([]domain.ForecastRow, 0, horizonDays)
	var uncovered int

	for h := 1; h <= horizonDays; h++ {
		ds := dataThrough.AddDate(0, 0, h)
		bucket, ok := domain.BucketForHorizon(h)
		if !ok {
			bucket = domain.Bucket91to380
		}
		bucketWeights := a.weights.Buckets[bucket]

		row := domain.ForecastRow{
			DS:          ds,
			OpenMinutes: a.calendar.OpenMinutes(ds),
			IsClosed:    a.calendar.IsClosed(ds),
			DataThrough: dataThrough,
		}

		present := make([]domain.QuantilePoint, 0, len(forecasts))
		presentWeights := make([]float64, 0, len(forecasts))
		var rawSum float64
		for _, mf := range forecasts {
			point, ok := mf.Points[ds]
			if !ok {
				continue
			}
			w := bucketWeights[mf.Name]
			present = append(present, point)
			presentWeights = append(presentWeights, w)
			rawSum += w
		}

		switch {
		case len(present) == 0:
			uncovered++
		case rawSum <= 0:
			// Every present model carries zero fitted weight: blend them
			// equally rather than emitting nothing.
			for _, point := range present {
				share := 1.0 / float64(len(present))
				row.P50 += share * point.P50
				row.P80 += share * point.P80
				row.P90 += share * point.P90
			}
		default:
			for i, point := range present {
				share := presentWeights[i] / rawSum
				row.P50 += share * point.P50
				row.P80 += share * point.P80
				row.P90 += share * point.P90
			}
		}
		rows = append(rows, row)
	}

	if uncovered > 0 {
		log.Warn().Int("dates", uncovered).Msg("Forecast dates covered by no model, emitted as zero")
	}
	return rows
}
