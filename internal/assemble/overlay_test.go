package assemble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/telemetry"
)

func fptr(v float64) *float64 { return &v }

func eventCalendar(family, start, end string) *domain.EventCalendar {
	return domain.NewEventCalendar([]domain.EventInstance{
		{Family: family, Start: day(start), End: day(end)},
	})
}

func flatRows(dataThrough time.Time, days int, p50, p80, p90 float64) []domain.ForecastRow {
	rows := make([]domain.ForecastRow, days)
	for i := range rows {
		rows[i] = domain.ForecastRow{
			DS: dataThrough.AddDate(0, 0, i+1), P50: p50, P80: p80, P90: p90,
			OpenMinutes: 600, DataThrough: dataThrough,
		}
	}
	return rows
}

func TestOverlayRestoresEventDaySpike(t *testing.T) {
	dataThrough := day("2025-08-31")
	cal := eventCalendar("street_fair", "2025-09-03", "2025-09-03")
	priors := map[string]domain.UpliftPrior{
		"street_fair": {EventFamily: "street_fair", UpliftMeanShrunk: fptr(1.4), NDays: 4},
	}

	rows := NewOverlay(cal, priors).Apply(flatRows(dataThrough, 7, 1000, 1100, 1200))

	for _, row := range rows {
		if row.DS.Equal(day("2025-09-03")) {
			assert.InDelta(t, 1400.0, row.P50, 1e-9)
			assert.InDelta(t, 1540.0, row.P80, 1e-9)
			assert.InDelta(t, 1680.0, row.P90, 1e-9)
		} else {
			assert.InDelta(t, 1000.0, row.P50, 1e-9)
		}
	}
}

func TestOverlayClampsExtremePriors(t *testing.T) {
	dataThrough := day("2025-08-31")
	cases := []struct {
		name   string
		shrunk float64
		want   float64
	}{
		{"high capped", 5.0, 2500.0},
		{"low capped", 0.1, 700.0},
		{"in band untouched", 1.3, 1300.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cal := eventCalendar("promo", "2025-09-02", "2025-09-02")
			priors := map[string]domain.UpliftPrior{
				"promo": {EventFamily: "promo", UpliftMeanShrunk: fptr(tc.shrunk), NDays: 3},
			}
			rows := NewOverlay(cal, priors).Apply(flatRows(dataThrough, 3, 1000, 1000, 1000))
			assert.InDelta(t, tc.want, rows[1].P50, 1e-9)
		})
	}
}

func TestOverlayComposesOverlappingFamilies(t *testing.T) {
	dataThrough := day("2025-08-31")
	cal := domain.NewEventCalendar([]domain.EventInstance{
		{Family: "holiday", Start: day("2025-09-02"), End: day("2025-09-02")},
		{Family: "promo", Start: day("2025-09-01"), End: day("2025-09-03")},
	})
	priors := map[string]domain.UpliftPrior{
		"holiday": {EventFamily: "holiday", UpliftMeanShrunk: fptr(1.2), NDays: 5},
		"promo":   {EventFamily: "promo", UpliftMeanShrunk: fptr(1.1), NDays: 6},
	}

	rows := NewOverlay(cal, priors).Apply(flatRows(dataThrough, 4, 1000, 1000, 1000))

	assert.InDelta(t, 1100.0, rows[0].P50, 1e-9, "promo only")
	assert.InDelta(t, 1320.0, rows[1].P50, 1e-9, "promo and holiday compose")
	assert.InDelta(t, 1100.0, rows[2].P50, 1e-9)
	assert.InDelta(t, 1000.0, rows[3].P50, 1e-9)
}

func TestOverlaySkipsMissingPriorsAndClosedDays(t *testing.T) {
	dataThrough := day("2025-08-31")
	cal := domain.NewEventCalendar([]domain.EventInstance{
		{Family: "no_evidence", Start: day("2025-09-01"), End: day("2025-09-01")},
		{Family: "festival", Start: day("2025-09-02"), End: day("2025-09-02")},
	})
	priors := map[string]domain.UpliftPrior{
		// A recorded family with no qualifying event days carries nil uplift.
		"no_evidence": {EventFamily: "no_evidence", Confidence: domain.ConfidenceMissing},
		"festival":    {EventFamily: "festival", UpliftMeanShrunk: fptr(1.5), NDays: 2},
	}

	rows := flatRows(dataThrough, 2, 1000, 1000, 1000)
	rows[1].IsClosed = true
	rows = NewOverlay(cal, priors).Apply(rows)

	assert.InDelta(t, 1000.0, rows[0].P50, 1e-9, "missing prior must not adjust")
	assert.InDelta(t, 1000.0, rows[1].P50, 1e-9, "closed day must not adjust")
}

func TestOverlayNilIsPassThrough(t *testing.T) {
	var o *Overlay
	rows := flatRows(day("2025-08-31"), 3, 1000, 1100, 1200)
	assert.Equal(t, rows, o.Apply(rows))
}

func TestAssembleAppliesOverlayBeforeGuardrails(t *testing.T) {
	dataThrough := day("2025-08-31")
	forecasts := []ModelForecast{
		modelForecast("alpha", dataThrough, 7, 1000, 1100, 1200),
		modelForecast("beta", dataThrough, 7, 1000, 1100, 1200),
	}
	cal := calendarClosedOn("2025-09-04")
	events := domain.NewEventCalendar([]domain.EventInstance{
		{Family: "festival", Start: day("2025-09-03"), End: day("2025-09-04")},
	})
	priors := map[string]domain.UpliftPrior{
		"festival": {EventFamily: "festival", UpliftMeanShrunk: fptr(1.5), NDays: 3},
	}

	a := NewAssembler(equalWeightSet(), NewGuardrails(cal, telemetry.New()), cal,
		config.CalibrationConfig{}, NewOverlay(events, priors))
	rows, err := a.Assemble(forecasts, dataThrough, 7, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 7)

	for _, row := range rows {
		switch {
		case row.DS.Equal(day("2025-09-03")):
			assert.InDelta(t, 1500.0, row.P50, 1e-9)
			assert.InDelta(t, 1650.0, row.P80, 1e-9)
			assert.InDelta(t, 1800.0, row.P90, 1e-9)
		case row.DS.Equal(day("2025-09-04")):
			// Event day on a closed date: closure wins over the overlay.
			assert.True(t, row.IsClosed)
			assert.Zero(t, row.P50+row.P80+row.P90)
		default:
			assert.InDelta(t, 1000.0, row.P50, 1e-9)
		}
		assert.GreaterOrEqual(t, row.P80, row.P50)
		assert.GreaterOrEqual(t, row.P90, row.P80)
	}
}
