// Package models holds the forecasters driven by the backtest harness and the
// production assembler. Every model satisfies the same fit/predict contract;
// the harness and assembler depend only on the Forecaster interface.
package models

import (
	"context"
	"fmt"
	"time"

	"github.com/demandcast/demandcast/internal/cache"
	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
)

// Forecaster is the black-box contract every model implements. Fit receives
// only history the caller already truncated to the cutoff; Predict must not
// consult anything beyond what Fit was given.
type Forecaster interface {
	Name() string
	Fit(ctx context.Context, train domain.Series) error
	Predict(ctx context.Context, issueDate time.Time, targetDates []time.Time) ([]domain.QuantilePoint, error)
}

// Model names accepted in forecast.models configuration.
const (
	NameSeasonalNaive = "seasonal_naive"
	NameWeekdayMedian = "weekday_median"
	NameQuantileGBM   = "quantile_gbm"
	NameFoundation    = "foundation"
)

// Build instantiates the configured forecasters in configuration order.
// Unknown names are an error; a disabled foundation model is skipped with the
// caller expected to have filtered it out beforehand.
func Build(names []string, cfg config.ModelsConfig, c cache.Cache) ([]Forecaster, error) {
	forecasters := make([]Forecaster, 0, len(names))
	for _, name := range names {
		switch name {
		case NameSeasonalNaive:
			forecasters = append(forecasters, NewSeasonalNaive())
		case NameWeekdayMedian:
			forecasters = append(forecasters, NewWeekdayMedian(8))
		case NameQuantileGBM:
			forecasters = append(forecasters, NewQuantileGBM(cfg.GBM.ArtifactCSV))
		case NameFoundation:
			forecasters = append(forecasters, NewFoundation(cfg.Foundation, c))
		default:
			return nil, fmt.Errorf("unknown forecaster %q", name)
		}
	}
	return forecasters, nil
}
