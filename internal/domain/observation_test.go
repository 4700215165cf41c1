package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSeriesTruncateTo(t *testing.T) {
	series := Series{
		{DS: d("2025-01-01"), Y: 100},
		{DS: d("2025-01-02"), Y: 200},
		{DS: d("2025-01-03"), Y: 300},
		{DS: d("2025-01-04"), Y: 400},
	}

	tests := []struct {
		name  string
		dsMax string
		want  int
	}{
		{"mid series", "2025-01-02", 2},
		{"exact end", "2025-01-04", 4},
		{"beyond end", "2025-02-01", 4},
		{"before start", "2024-12-31", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := series.TruncateTo(d(tt.dsMax))
			require.Len(t, got, tt.want)
			for _, obs := range got {
				assert.False(t, obs.DS.After(d(tt.dsMax)), "row %s leaks past %s", obs.DS, tt.dsMax)
			}
		})
	}
}

func TestSeriesMissingDates(t *testing.T) {
	series := Series{
		{DS: d("2025-03-01"), Y: 100},
		{DS: d("2025-03-02"), Y: 100},
		{DS: d("2025-03-05"), Y: 100},
	}
	missing := series.MissingDates()
	require.Len(t, missing, 2)
	assert.Equal(t, d("2025-03-03"), missing[0])
	assert.Equal(t, d("2025-03-04"), missing[1])

	assert.Nil(t, Series{{DS: d("2025-03-01")}}.MissingDates())
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 1, DaysBetween(d("2025-01-01"), d("2025-01-02")))
	assert.Equal(t, 0, DaysBetween(d("2025-01-01"), d("2025-01-01")))
	assert.Equal(t, -7, DaysBetween(d("2025-01-08"), d("2025-01-01")))
	// across a DST boundary in local wall time, day math must stay exact
	assert.Equal(t, 365, DaysBetween(d("2024-03-01"), d("2025-03-01")))
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		vals []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{42}, 42},
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Median(tt.vals))
		})
	}
}

func TestQuantile(t *testing.T) {
	vals := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.InDelta(t, 91.0, Quantile(vals, 0.9), 1e-9)
	assert.Equal(t, 10.0, Quantile(vals, 0))
	assert.Equal(t, 100.0, Quantile(vals, 1))
	assert.Equal(t, 0.0, Quantile(nil, 0.5))
}

func TestWeightSetValidateWeights(t *testing.T) {
	tests := []struct {
		name    string
		buckets map[HorizonBucket]map[string]float64
		wantErr bool
	}{
		{
			name: "valid convex",
			buckets: map[HorizonBucket]map[string]float64{
				Bucket1to7: {"seasonal_naive": 0.6, "weekday_median": 0.4},
			},
			wantErr: false,
		},
		{
			name: "sum off",
			buckets: map[HorizonBucket]map[string]float64{
				Bucket1to7: {"seasonal_naive": 0.6, "weekday_median": 0.6},
			},
			wantErr: true,
		},
		{
			name: "negative weight",
			buckets: map[HorizonBucket]map[string]float64{
				Bucket8to14: {"seasonal_naive": -0.1, "weekday_median": 1.1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := WeightSet{Buckets: tt.buckets}
			err := ws.ValidateWeights(1e-6)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestEventCalendarExpansion(t *testing.T) {
	cal := NewEventCalendar([]EventInstance{
		{Family: "street_festival", Start: d("2025-06-06"), End: d("2025-06-08")},
		{Family: "street_festival", Start: d("2024-06-07"), End: d("2024-06-09")},
		{Family: "bank_holiday", Start: d("2025-05-01"), End: d("2025-05-01")},
		{Family: "inverted", Start: d("2025-07-02"), End: d("2025-07-01")},
	})

	assert.Equal(t, []string{"bank_holiday", "street_festival"}, cal.Families())
	require.Len(t, cal.Days("street_festival"), 6)
	assert.Equal(t, d("2024-06-07"), cal.Days("street_festival")[0])
	assert.Equal(t, []string{"street_festival"}, cal.ActiveOn(d("2025-06-07")))
	assert.Empty(t, cal.Days("inverted"))
}
