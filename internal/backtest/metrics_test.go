package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demandcast/demandcast/internal/domain"
)

func predRow(model string, target string, horizon int, p50, y float64, closed bool) domain.PredictionRow {
	bucket, _ := domain.BucketForHorizon(horizon)
	return domain.PredictionRow{
		Cutoff:        day("2025-03-01"),
		ModelName:     model,
		IssueDate:     day("2025-03-01"),
		TargetDate:    day(target),
		Horizon:       horizon,
		HorizonBucket: bucket,
		P50:           p50,
		P80:           p50 * 1.2,
		P90:           p50 * 1.4,
		Y:             y,
		IsClosed:      closed,
	}
}

func TestComputeBucketMetricsHandComputed(t *testing.T) {
	rows := []domain.PredictionRow{
		predRow("m", "2025-03-02", 1, 900, 1000, false),
		predRow("m", "2025-03-03", 2, 1100, 1000, false),
		// Closed row must be excluded from every aggregate.
		predRow("m", "2025-03-04", 3, 5000, 0, true),
	}

	metrics := ComputeBucketMetrics(rows)
	require.Len(t, metrics, 1)
	m := metrics[0]

	assert.Equal(t, "m", m.ModelName)
	assert.Equal(t, domain.Bucket1to7, m.HorizonBucket)
	assert.Equal(t, 2, m.Rows)
	// wMAPE = (100+100)/2000
	assert.InDelta(t, 0.1, m.WMAPE, 1e-12)
	// RMSE = sqrt((100^2+100^2)/2) = 100
	assert.InDelta(t, 100.0, m.RMSE, 1e-9)
	// bias = 2000/2000 - 1 = 0
	assert.InDelta(t, 0.0, m.Bias, 1e-12)
}

func TestComputeBucketMetricsOrderedOutput(t *testing.T) {
	rows := []domain.PredictionRow{
		predRow("b", "2025-03-20", 19, 1000, 1000, false),
		predRow("a", "2025-03-02", 1, 1000, 1000, false),
		predRow("a", "2025-03-20", 19, 1000, 1000, false),
	}
	metrics := ComputeBucketMetrics(rows)
	require.Len(t, metrics, 3)
	assert.Equal(t, "a", metrics[0].ModelName)
	assert.Equal(t, domain.Bucket1to7, metrics[0].HorizonBucket)
	assert.Equal(t, domain.Bucket15to30, metrics[1].HorizonBucket)
	assert.Equal(t, "b", metrics[2].ModelName)
}

func TestComputePeakMetrics(t *testing.T) {
	var rows []domain.PredictionRow
	// 20 ordinary days around 1000, one peak day at 3000.
	for i := 0; i < 20; i++ {
		y := 1000 + float64(i)*10
		rows = append(rows, predRow("m", day("2025-03-02").AddDate(0, 0, i).Format("2006-01-02"), i+1, y, y, false))
	}
	peak := predRow("m", "2025-03-25", 24, 2000, 3000, false)
	rows = append(rows, peak)

	metrics := ComputePeakMetrics(rows, 0.99)
	require.Len(t, metrics, 1)
	m := metrics[0]

	assert.Equal(t, "m", m.ModelName)
	assert.Equal(t, 1, m.PeakDays)
	// p50=2000 < y=3000: underpredicted, and neither p80 (2400) nor p90
	// (2800) covered the actual.
	assert.Equal(t, 1.0, m.UnderpredictionRate)
	assert.Equal(t, 0.0, m.P80Coverage)
	assert.Equal(t, 0.0, m.P90Coverage)
}

func TestComputePeakMetricsEmpty(t *testing.T) {
	assert.Nil(t, ComputePeakMetrics(nil, 0.9))
}
