package domain

import (
	"fmt"
	"math"
	"time"
)

// PredictionRow is one backtest prediction joined against its realized
// actual. Rows are appended by the harness only and never mutated.
type PredictionRow struct {
	Cutoff        time.Time     `json:"cutoff" db:"cutoff"`
	ModelName     string        `json:"model_name" db:"model_name"`
	IssueDate     time.Time     `json:"issue_date" db:"issue_date"`
	TargetDate    time.Time     `json:"target_date" db:"target_date"`
	Horizon       int           `json:"horizon" db:"horizon"`
	HorizonBucket HorizonBucket `json:"horizon_bucket" db:"horizon_bucket"`
	P50           float64       `json:"p50" db:"p50"`
	P80           float64       `json:"p80" db:"p80"`
	P90           float64       `json:"p90" db:"p90"`
	Y             float64       `json:"y" db:"y"`
	IsClosed      bool          `json:"is_closed" db:"is_closed"`
}

// QuantilePoint is a single forecast date as emitted by a forecaster.
type QuantilePoint struct {
	DS  time.Time `json:"ds"`
	P50 float64   `json:"p50"`
	P80 float64   `json:"p80"`
	P90 float64   `json:"p90"`
}

// ForecastRow is one day of the final production forecast. Every emitted row
// satisfies 0 <= P50 <= P80 <= P90, and closed days are all-zero.
type ForecastRow struct {
	DS          time.Time `json:"ds" db:"ds"`
	P50         float64   `json:"p50" db:"p50"`
	P80         float64   `json:"p80" db:"p80"`
	P90         float64   `json:"p90" db:"p90"`
	IsClosed    bool      `json:"is_closed" db:"is_closed"`
	OpenMinutes int       `json:"open_minutes" db:"open_minutes"`
	DataThrough time.Time `json:"data_through" db:"data_through"`
}

// WeightSet is one fitted blending configuration: per horizon bucket, a
// convex weight per model. Immutable once fitted; re-fitting produces a new
// WeightSet with a fresh ID.
type WeightSet struct {
	ID       string                               `json:"id"`
	RunID    string                               `json:"run_id"`
	FittedAt time.Time                            `json:"fitted_at"`
	Buckets  map[HorizonBucket]map[string]float64 `json:"buckets"`
	// Notes records per-bucket fitting provenance, e.g. "borrowed from 31-90".
	Notes map[HorizonBucket]string `json:"notes,omitempty"`
}

// ValidateWeights checks the convexity invariant on every bucket: each weight
// in [0,1] and the bucket summing to 1 within tol. A violation is a logic
// defect in the fitter, not a data condition.
func (ws WeightSet) ValidateWeights(tol float64) error {
	for bucket, weights := range ws.Buckets {
		var sum float64
		for model, w := range weights {
			if w < 0 || w > 1 {
				return fmt.Errorf("bucket %s: weight %s=%f outside [0,1]", bucket, model, w)
			}
			sum += w
		}
		if math.Abs(sum-1.0) > tol {
			return fmt.Errorf("bucket %s: weights sum to %f, want 1.0±%g", bucket, sum, tol)
		}
	}
	return nil
}

// ConfidenceBucket grades how much evidence backs an uplift prior.
type ConfidenceBucket string

const (
	ConfidenceHigh    ConfidenceBucket = "high"
	ConfidenceMedium  ConfidenceBucket = "medium"
	ConfidenceLow     ConfidenceBucket = "low"
	ConfidenceMissing ConfidenceBucket = "missing"
)

// UpliftPrior is the shrunk uplift multiplier for one recurring event family.
// Uplift fields are nil when no qualifying event days exist even after the
// one-year-back fallback window.
type UpliftPrior struct {
	EventFamily      string           `json:"event_family"`
	UpliftMeanRaw    *float64         `json:"uplift_mean_raw"`
	UpliftMeanShrunk *float64         `json:"uplift_mean_shrunk"`
	NDays            int              `json:"n_days"`
	Confidence       ConfidenceBucket `json:"confidence_bucket"`
}

// OverrideType enumerates the operator override kinds.
type OverrideType string

const (
	OverrideAbsolute       OverrideType = "absolute"
	OverrideMultiplicative OverrideType = "multiplicative"
	OverrideForceClosed    OverrideType = "force_closed"
)

// OverrideQuantile selects which quantile(s) an override touches.
type OverrideQuantile string

const (
	QuantileP50 OverrideQuantile = "p50"
	QuantileP80 OverrideQuantile = "p80"
	QuantileP90 OverrideQuantile = "p90"
	QuantileAll OverrideQuantile = "all"
)

// OverrideRecord is one operator adjustment to the assembled forecast.
// Overrides are applied only through the two-pass guardrail procedure.
type OverrideRecord struct {
	Date     time.Time        `json:"date" yaml:"date"`
	Type     OverrideType     `json:"type" yaml:"type"`
	Quantile OverrideQuantile `json:"quantile,omitempty" yaml:"quantile,omitempty"`
	Value    float64          `json:"value,omitempty" yaml:"value,omitempty"`
}
