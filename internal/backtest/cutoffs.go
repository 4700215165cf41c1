// Package backtest drives forecasters through rolling-origin evaluation:
// time-ordered cutoffs, leakage-safe fit/predict cycles, and row-level
// prediction records joined against realized actuals.
package backtest

import (
	"time"

	"github.com/demandcast/demandcast/internal/domain"
)

// GenerateCutoffs returns the ordered evaluation cutoffs: the first once
// minTrainDays of history have elapsed, then every stepDays, stopping once
// fewer than one evaluable day remains past the cutoff.
func GenerateCutoffs(minTrainDays, stepDays int, historyStart, historyEnd time.Time) []time.Time {
	start := domain.Day(historyStart).AddDate(0, 0, minTrainDays)
	end := domain.Day(historyEnd)

	var cutoffs []time.Time
	for t := start; t.Before(end); t = t.AddDate(0, 0, stepDays) {
		cutoffs = append(cutoffs, t)
	}
	return cutoffs
}
