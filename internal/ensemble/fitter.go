// Package ensemble fits the per-horizon-bucket convex blending weights from
// merged backtest prediction rows.
package ensemble

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
)

// Fitter solves, per horizon bucket, the weighted-MAPE-minimal convex blend
// of candidate model p50s.
type Fitter struct {
	cfg config.EnsembleConfig
}

// NewFitter returns a fitter with the given configuration.
func NewFitter(cfg config.EnsembleConfig) *Fitter {
	return &Fitter{cfg: cfg}
}

// panelRow is one (cutoff, target_date) evaluation point with every
// candidate model's p50 aligned by model index.
type panelRow struct {
	p50 []float64
	y   float64
}

// Fit builds per-bucket panels from the prediction rows and fits one weight
// vector per bucket. Buckets run concurrently; borrowing for short buckets
// resolves afterwards in shortest-first order. The returned WeightSet is
// immutable and already validated; a validation failure is a fitter bug and
// comes back as an error.
func (f *Fitter) Fit(rows []domain.PredictionRow, runID string) (*domain.WeightSet, error) {
	modelNames := collectModels(rows)
	if len(modelNames) == 0 {
		return nil, fmt.Errorf("no prediction rows to fit weights from")
	}

	panels := buildPanels(rows, modelNames)

	type fitted struct {
		weights []float64
		rows    int
		short   bool
	}
	results := make(map[domain.HorizonBucket]*fitted, len(domain.BucketOrder))

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, bucket := range domain.BucketOrder {
		panel := panels[bucket]
		if len(panel) < f.cfg.MinRows {
			mu.Lock()
			results[bucket] = &fitted{rows: len(panel), short: true}
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(bucket domain.HorizonBucket, panel []panelRow) {
			defer wg.Done()
			res := optimize(f.cfg.Optimizer, len(modelNames), func(w []float64) float64 {
				return panelWMAPE(panel, w)
			})
			if !res.converged {
				log.Warn().Str("bucket", string(bucket)).Int("evaluations", res.evaluations).
					Msg("Weight optimization hit evaluation budget without converging")
			}
			log.Info().
				Str("bucket", string(bucket)).
				Int("rows", len(panel)).
				Float64("wmape", res.objective).
				Int("evaluations", res.evaluations).
				Msg("Bucket weights fitted")
			mu.Lock()
			results[bucket] = &fitted{weights: res.weights, rows: len(panel)}
			mu.Unlock()
		}(bucket, panel)
	}
	wg.Wait()

	ws := &domain.WeightSet{
		ID:       uuid.New().String(),
		RunID:    runID,
		FittedAt: time.Now().UTC(),
		Buckets:  make(map[domain.HorizonBucket]map[string]float64, len(domain.BucketOrder)),
		Notes:    make(map[domain.HorizonBucket]string),
	}

	// Resolve short buckets shortest-first so each can borrow the already
	// resolved weights of the next-shorter bucket.
	for i, bucket := range domain.BucketOrder {
		res := results[bucket]
		if !res.short {
			ws.Buckets[bucket] = toWeightMap(modelNames, res.weights)
			continue
		}
		if i == 0 {
			log.Warn().Str("bucket", string(bucket)).Int("rows", res.rows).Int("min_rows", f.cfg.MinRows).
				Msg("Shortest bucket lacks rows, using equal weights")
			ws.Buckets[bucket] = toWeightMap(modelNames, equalWeights(len(modelNames)))
			ws.Notes[bucket] = "equal weights"
			continue
		}
		source := domain.BucketOrder[i-1]
		log.Warn().
			Str("bucket", string(bucket)).
			Str("borrowed_from", string(source)).
			Int("rows", res.rows).
			Int("min_rows", f.cfg.MinRows).
			Msg("Bucket lacks rows, borrowing weights from shorter bucket")
		ws.Buckets[bucket] = copyWeights(ws.Buckets[source])
		ws.Notes[bucket] = fmt.Sprintf("borrowed from %s", source)
	}

	if err := ws.ValidateWeights(1e-6); err != nil {
		return nil, fmt.Errorf("fitted weight set failed validation: %w", err)
	}
	return ws, nil
}

// buildPanels groups open-day rows by bucket, keeping only (cutoff, target)
// pairs every candidate model predicted, so all models are compared on
// identical rows.
func buildPanels(rows []domain.PredictionRow, modelNames []string) map[domain.HorizonBucket][]panelRow {
	modelIdx := make(map[string]int, len(modelNames))
	for i, name := range modelNames {
		modelIdx[name] = i
	}

	type cell struct {
		bucket domain.HorizonBucket
		p50    []float64
		filled int
		y      float64
	}
	type pairKey struct {
		cutoff time.Time
		target time.Time
	}

	cells := make(map[pairKey]*cell)
	for _, row := range rows {
		if row.IsClosed {
			continue
		}
		key := pairKey{row.Cutoff, row.TargetDate}
		c := cells[key]
		if c == nil {
			c = &cell{bucket: row.HorizonBucket, p50: make([]float64, len(modelNames))}
			cells[key] = c
		}
		c.p50[modelIdx[row.ModelName]] = row.P50
		c.filled++
		c.y = row.Y
	}

	panels := make(map[domain.HorizonBucket][]panelRow)
	for _, c := range cells {
		if c.filled != len(modelNames) {
			continue
		}
		panels[c.bucket] = append(panels[c.bucket], panelRow{p50: c.p50, y: c.y})
	}
	return panels
}

// panelWMAPE is the blending objective: Σ|Σ w_m·p50_m − y| / Σy over the
// panel, so high-revenue days dominate.
func panelWMAPE(panel []panelRow, w []float64) float64 {
	var absErr, sumY float64
	for _, row := range panel {
		var blended float64
		for i, p := range row.p50 {
			blended += w[i] * p
		}
		absErr += math.Abs(blended - row.y)
		sumY += row.y
	}
	if sumY <= 0 {
		return math.Inf(1)
	}
	return absErr / sumY
}

func collectModels(rows []domain.PredictionRow) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		seen[row.ModelName] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toWeightMap(names []string, w []float64) map[string]float64 {
	out := make(map[string]float64, len(names))
	for i, name := range names {
		out[name] = w[i]
	}
	return out
}

func copyWeights(src map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(src))
	for name, w := range src {
		out[name] = w
	}
	return out
}
