// Package assemble blends per-model quantile forecasts into the final daily
// forecast and enforces the hard output invariants: non-negativity, quantile
// ordering, and closure forcing.
package assemble

import (
	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/ingest"
	"github.com/demandcast/demandcast/internal/telemetry"
)

// Guardrails is the reusable safety pass. The same Apply runs after blending
// and again after overrides, so the emitted rows satisfy the invariants no
// matter which path they took.
type Guardrails struct {
	calendar *ingest.HoursCalendar
	metrics  *telemetry.Metrics
}

// NewGuardrails builds the engine over the hours calendar.
func NewGuardrails(calendar *ingest.HoursCalendar, metrics *telemetry.Metrics) *Guardrails {
	return &Guardrails{calendar: calendar, metrics: metrics}
}

// Apply enforces, in order: calendar closure forcing, non-negativity clamps,
// and forward monotonicity (p80 = max(p80,p50), p90 = max(p90,p80)). Pure
// with respect to its input: rows are copied, never mutated in place.
func (g *Guardrails) Apply(rows []domain.ForecastRow) []domain.ForecastRow {
	out := make([]domain.ForecastRow, len(rows))
	for i, row := range rows {
		if g.calendar.IsClosed(row.DS) || row.IsClosed {
			if row.P50 != 0 || row.P80 != 0 || row.P90 != 0 {
				g.count("closure")
			}
			row.P50, row.P80, row.P90 = 0, 0, 0
			row.IsClosed = true
			row.OpenMinutes = 0
			out[i] = row
			continue
		}

		if row.P50 < 0 || row.P80 < 0 || row.P90 < 0 {
			g.count("clamp_negative")
		}
		row.P50 = max0(row.P50)
		row.P80 = max0(row.P80)
		row.P90 = max0(row.P90)

		if row.P80 < row.P50 || row.P90 < row.P80 {
			g.count("monotonicity")
		}
		if row.P80 < row.P50 {
			row.P80 = row.P50
		}
		if row.P90 < row.P80 {
			row.P90 = row.P80
		}
		out[i] = row
	}
	return out
}

// Verify is the defensive post-pass check. Given the two-pass design a
// violation here is structurally unreachable; seeing one means a logic
// defect, so the caller must abort.
func (g *Guardrails) Verify(rows []domain.ForecastRow) error {
	for _, row := range rows {
		switch {
		case row.P50 < 0 || row.P80 < 0 || row.P90 < 0:
			return &domain.GuardrailError{DS: row.DS, Reason: "negative quantile"}
		case row.P80 < row.P50 || row.P90 < row.P80:
			return &domain.GuardrailError{DS: row.DS, Reason: "quantile ordering violated"}
		case row.IsClosed && (row.P50 != 0 || row.P80 != 0 || row.P90 != 0):
			return &domain.GuardrailError{DS: row.DS, Reason: "closed day with nonzero forecast"}
		}
	}
	return nil
}

func (g *Guardrails) count(rule string) {
	if g.metrics != nil {
		g.metrics.GuardrailCorrections.WithLabelValues(rule).Inc()
	}
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
