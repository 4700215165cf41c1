package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/demandcast/demandcast/internal/domain"
)

// BucketMetrics aggregates one model's backtest error over a horizon bucket,
// open days only. Bias is signed: positive means over-forecast.
type BucketMetrics struct {
	ModelName     string               `json:"model_name"`
	HorizonBucket domain.HorizonBucket `json:"horizon_bucket"`
	Rows          int                  `json:"rows"`
	WMAPE         float64              `json:"wmape"`
	RMSE          float64              `json:"rmse"`
	Bias          float64              `json:"bias"`
}

// PeakMetrics measures one model on its hardest days: the top tail of the
// open-day actual distribution, where under-forecasting costs the most.
type PeakMetrics struct {
	ModelName           string  `json:"model_name"`
	Threshold           float64 `json:"threshold"`
	PeakDays            int     `json:"peak_days"`
	UnderpredictionRate float64 `json:"underprediction_rate"`
	P80Coverage         float64 `json:"p80_coverage"`
	P90Coverage         float64 `json:"p90_coverage"`
	MASE                float64 `json:"mase"`
}

// ComputeBucketMetrics aggregates wMAPE, RMSE, and bias per (model, bucket)
// over open-day rows. wMAPE = Σ|p50−y| / Σy, so high-revenue days dominate.
func ComputeBucketMetrics(rows []domain.PredictionRow) []BucketMetrics {
	type key struct {
		model  string
		bucket domain.HorizonBucket
	}
	type acc struct {
		rows      int
		absErr    float64
		sqErr     float64
		sumP50    float64
		sumActual float64
	}

	accs := make(map[key]*acc)
	for _, row := range rows {
		if row.IsClosed {
			continue
		}
		k := key{row.ModelName, row.HorizonBucket}
		a := accs[k]
		if a == nil {
			a = &acc{}
			accs[k] = a
		}
		a.rows++
		a.absErr += math.Abs(row.P50 - row.Y)
		a.sqErr += (row.P50 - row.Y) * (row.P50 - row.Y)
		a.sumP50 += row.P50
		a.sumActual += row.Y
	}

	out := make([]BucketMetrics, 0, len(accs))
	for k, a := range accs {
		m := BucketMetrics{ModelName: k.model, HorizonBucket: k.bucket, Rows: a.rows}
		if a.sumActual > 0 {
			m.WMAPE = a.absErr / a.sumActual
			m.Bias = a.sumP50/a.sumActual - 1
		}
		m.RMSE = math.Sqrt(a.sqErr / float64(a.rows))
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ModelName != out[j].ModelName {
			return out[i].ModelName < out[j].ModelName
		}
		return bucketRank(out[i].HorizonBucket) < bucketRank(out[j].HorizonBucket)
	})
	return out
}

// ComputePeakMetrics evaluates each model on peak days: open days whose
// actual exceeds the peakPercentile quantile of all open-day actuals. MASE
// scales mean absolute error by the one-week-naive error over the same
// history, so values below 1 beat repeating last week.
func ComputePeakMetrics(rows []domain.PredictionRow, peakPercentile float64) []PeakMetrics {
	actualByDate := make(map[time.Time]float64)
	var openActuals []float64
	for _, row := range rows {
		if row.IsClosed {
			continue
		}
		if _, seen := actualByDate[row.TargetDate]; !seen {
			actualByDate[row.TargetDate] = row.Y
			openActuals = append(openActuals, row.Y)
		}
	}
	if len(openActuals) == 0 {
		return nil
	}
	threshold := domain.Quantile(openActuals, peakPercentile)
	naiveScale := naiveLag7Error(actualByDate)

	type acc struct {
		days      int
		under     int
		p80Cover  int
		p90Cover  int
		absErrSum float64
	}
	accs := make(map[string]*acc)
	for _, row := range rows {
		if row.IsClosed || row.Y < threshold {
			continue
		}
		a := accs[row.ModelName]
		if a == nil {
			a = &acc{}
			accs[row.ModelName] = a
		}
		a.days++
		if row.P50 < row.Y {
			a.under++
		}
		if row.P80 >= row.Y {
			a.p80Cover++
		}
		if row.P90 >= row.Y {
			a.p90Cover++
		}
		a.absErrSum += math.Abs(row.P50 - row.Y)
	}

	models := make([]string, 0, len(accs))
	for model := range accs {
		models = append(models, model)
	}
	sort.Strings(models)

	out := make([]PeakMetrics, 0, len(models))
	for _, model := range models {
		a := accs[model]
		m := PeakMetrics{
			ModelName:           model,
			Threshold:           threshold,
			PeakDays:            a.days,
			UnderpredictionRate: float64(a.under) / float64(a.days),
			P80Coverage:         float64(a.p80Cover) / float64(a.days),
			P90Coverage:         float64(a.p90Cover) / float64(a.days),
		}
		if naiveScale > 0 {
			m.MASE = (a.absErrSum / float64(a.days)) / naiveScale
		}
		out = append(out, m)
	}
	return out
}

// naiveLag7Error is the mean absolute error of forecasting each day with its
// value one week earlier, over the dates where both actuals exist.
func naiveLag7Error(actualByDate map[time.Time]float64) float64 {
	var sum float64
	var n int
	for ds, y := range actualByDate {
		if prev, ok := actualByDate[ds.AddDate(0, 0, -7)]; ok {
			sum += math.Abs(y - prev)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func bucketRank(b domain.HorizonBucket) int {
	for i, candidate := range domain.BucketOrder {
		if candidate == b {
			return i
		}
	}
	return len(domain.BucketOrder)
}
