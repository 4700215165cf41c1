package assemble

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/domain"
)

// Baseline models smooth rare event-day spikes toward the surrounding
// weekdays. Overlay restores them: each event day's quantiles are multiplied
// by the shrunk uplift prior of every family active on that date, between
// the blend and the first guardrail pass.
type Overlay struct {
	events *domain.EventCalendar
	priors map[string]domain.UpliftPrior
}

// Shrunk priors outside this band are estimation noise, clamped per family
// before composing.
const (
	overlayMinMultiplier = 0.7
	overlayMaxMultiplier = 2.5
)

// NewOverlay builds an overlay from the event calendar and the production
// uplift priors. Either being empty yields a pass-through.
func NewOverlay(events *domain.EventCalendar, priors map[string]domain.UpliftPrior) *Overlay {
	return &Overlay{events: events, priors: priors}
}

// Apply returns rows with event-day multipliers applied. Closed days are
// left alone; the guardrail pass zeroes them anyway. A nil overlay is a
// pass-through so callers without events need no special case.
func (o *Overlay) Apply(rows []domain.ForecastRow) []domain.ForecastRow {
	if o == nil || o.events == nil || len(o.priors) == 0 {
		return rows
	}

	out := make([]domain.ForecastRow, len(rows))
	var adjusted int
	for i, row := range rows {
		if mult := o.multiplier(row.DS); mult != 1.0 && !row.IsClosed {
			row.P50 *= mult
			row.P80 *= mult
			row.P90 *= mult
			adjusted++
		}
		out[i] = row
	}
	if adjusted > 0 {
		log.Info().Int("days", adjusted).Msg("Event uplift overlay applied")
	}
	return out
}

// multiplier composes the clamped shrunk priors of every family active on
// ds. Families whose prior is missing contribute nothing, so a date is only
// ever adjusted on real evidence.
func (o *Overlay) multiplier(ds time.Time) float64 {
	mult := 1.0
	for _, family := range o.events.ActiveOn(ds) {
		prior, ok := o.priors[family]
		if !ok || prior.UpliftMeanShrunk == nil {
			continue
		}
		m := *prior.UpliftMeanShrunk
		if m < overlayMinMultiplier {
			m = overlayMinMultiplier
		}
		if m > overlayMaxMultiplier {
			m = overlayMaxMultiplier
		}
		mult *= m
	}
	return mult
}
