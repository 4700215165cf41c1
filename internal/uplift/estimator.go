// Package uplift estimates, per recurring event family, how much an event
// day lifts sales over its weekday baseline. The estimate is leakage-safe:
// everything is computed from observations at or before a caller-supplied
// dsMax, so the same code path serves out-of-fold backtest cutoffs and the
// final production call.
package uplift

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/cache"
	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
)

// Estimator computes shrunk uplift priors for every known event family.
type Estimator struct {
	cfg     config.UpliftConfig
	history domain.Series
	events  *domain.EventCalendar
	cache   cache.Cache
	ttl     time.Duration
}

// NewEstimator builds an estimator over the full observation history and
// event calendar. The cache memoizes per-dsMax results across the many
// identical calls a backtest makes; correctness never depends on it.
func NewEstimator(cfg config.UpliftConfig, history domain.Series, events *domain.EventCalendar, c cache.Cache, ttl time.Duration) *Estimator {
	return &Estimator{cfg: cfg, history: history, events: events, cache: c, ttl: ttl}
}

// ComputePriors returns one prior per event family, computed purely from
// observations with ds <= dsMax. Families with zero qualifying event days
// even after the one-year-back fallback get nil uplift fields and confidence
// "missing"; that condition is recorded, never raised.
func (e *Estimator) ComputePriors(dsMax time.Time) map[string]domain.UpliftPrior {
	dsMax = domain.Day(dsMax)

	if cached, ok := e.cached(dsMax); ok {
		return cached
	}

	truncated := e.history.TruncateTo(dsMax)
	byDate := truncated.ByDate()

	priors := make(map[string]domain.UpliftPrior)
	for _, family := range e.events.Families() {
		priors[family] = e.familyPrior(family, dsMax, truncated, byDate)
	}

	e.store(dsMax, priors)
	return priors
}

// familyPrior evaluates one family over the primary baseline-year window,
// falling back to the window one year earlier when the primary yields no
// qualifying days.
func (e *Estimator) familyPrior(family string, dsMax time.Time, truncated domain.Series, byDate map[time.Time]domain.Observation) domain.UpliftPrior {
	year := baselineYear(dsMax)

	uplifts := e.dayUplifts(family, year, dsMax, truncated, byDate)
	if len(uplifts) == 0 {
		uplifts = e.dayUplifts(family, year-1, dsMax, truncated, byDate)
		if len(uplifts) > 0 {
			log.Debug().Str("family", family).Int("year", year-1).
				Msg("Uplift prior computed from fallback year window")
		}
	}

	n := len(uplifts)
	prior := domain.UpliftPrior{EventFamily: family, NDays: n, Confidence: e.confidence(n)}
	if n == 0 {
		log.Debug().Str("family", family).Time("ds_max", dsMax).
			Msg("No qualifying event days, prior recorded as missing")
		return prior
	}

	raw := domain.Median(uplifts)
	k := e.cfg.ShrinkK
	shrunk := (float64(n)/(float64(n)+k))*raw + (k/(float64(n)+k))*1.0

	prior.UpliftMeanRaw = &raw
	prior.UpliftMeanShrunk = &shrunk
	return prior
}

// dayUplifts computes per-event-day uplift ratios within one calendar year,
// restricted to ds <= dsMax. The weekday baseline looks strictly backwards,
// so an event day never contributes to its own baseline.
func (e *Estimator) dayUplifts(family string, year int, dsMax time.Time, truncated domain.Series, byDate map[time.Time]domain.Observation) []float64 {
	var uplifts []float64
	for _, d := range e.events.Days(family) {
		if d.Year() != year || d.After(dsMax) {
			continue
		}
		obs, ok := byDate[d]
		if !ok || obs.IsClosed {
			continue
		}
		baseline := e.weekdayBaseline(d, truncated, byDate)
		if baseline > 0 {
			uplifts = append(uplifts, obs.Y/baseline)
		}
	}
	return uplifts
}

// weekdayBaseline is the median of the most recent lookback_weeks open
// observations on the same weekday strictly before d.
func (e *Estimator) weekdayBaseline(d time.Time, truncated domain.Series, byDate map[time.Time]domain.Observation) float64 {
	start := truncated.Start()
	vals := make([]float64, 0, e.cfg.LookbackWeeks)
	for prev := d.AddDate(0, 0, -7); !prev.Before(start) && len(vals) < e.cfg.LookbackWeeks; prev = prev.AddDate(0, 0, -7) {
		if obs, ok := byDate[prev]; ok && !obs.IsClosed {
			vals = append(vals, obs.Y)
		}
	}
	if len(vals) == 0 {
		return 0
	}
	return domain.Median(vals)
}

func (e *Estimator) confidence(n int) domain.ConfidenceBucket {
	switch {
	case n >= e.cfg.Confidence.HighMin:
		return domain.ConfidenceHigh
	case n >= e.cfg.Confidence.MediumMin:
		return domain.ConfidenceMedium
	case n >= e.cfg.Confidence.LowMin:
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceMissing
	}
}

// baselineYear picks the primary event window: the year of dsMax once it is
// fully observed (dsMax on Dec 31), otherwise the previous year.
func baselineYear(dsMax time.Time) int {
	dec31 := time.Date(dsMax.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	if !dsMax.Before(dec31) {
		return dsMax.Year()
	}
	return dsMax.Year() - 1
}

// cacheKey folds in the history fingerprint so a data refresh invalidates
// memoized priors.
func (e *Estimator) cacheKey(dsMax time.Time) string {
	return cache.Key("uplift",
		dsMax.Format("2006-01-02"),
		e.history.End().Format("2006-01-02"),
		strconv.Itoa(len(e.history)))
}

func (e *Estimator) cached(dsMax time.Time) (map[string]domain.UpliftPrior, bool) {
	var priors map[string]domain.UpliftPrior
	if !cache.GetJSON(e.cache, e.cacheKey(dsMax), &priors) {
		return nil, false
	}
	return priors, true
}

func (e *Estimator) store(dsMax time.Time, priors map[string]domain.UpliftPrior) {
	cache.SetJSON(e.cache, e.cacheKey(dsMax), priors, e.ttl)
}
