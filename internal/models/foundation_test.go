package models

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demandcast/demandcast/internal/cache"
	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
)

func foundationCfg(endpoint string) config.FoundationConfig {
	return config.FoundationConfig{
		Enabled:      true,
		Endpoint:     endpoint,
		ContextDays:  64,
		Timeout:      5 * time.Second,
		RateLimitRPS: 1000,
		Breaker: config.BreakerConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             time.Minute,
			ConsecutiveFailures: 3,
		},
	}
}

func forecastHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req foundationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := foundationResponse{}
		for _, ds := range req.TargetDates {
			resp.Forecasts = append(resp.Forecasts, struct {
				DS  string  `json:"ds"`
				P50 float64 `json:"p50"`
				P80 float64 `json:"p80"`
				P90 float64 `json:"p90"`
			}{DS: ds, P50: 1000, P80: 1200, P90: 1400})
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestFoundationPredict(t *testing.T) {
	srv := httptest.NewServer(forecastHandler(t))
	defer srv.Close()

	m := NewFoundation(foundationCfg(srv.URL), cache.New())
	train := seriesDays("2025-01-01", 30, func(i int) float64 { return 900 })
	require.NoError(t, m.Fit(context.Background(), train))

	targets := []time.Time{day("2025-01-31"), day("2025-02-01")}
	points, err := m.Predict(context.Background(), day("2025-01-30"), targets)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 1000.0, points[0].P50)
	assert.Equal(t, 1400.0, points[1].P90)
}

func TestFoundationCachesResponses(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		forecastHandler(t)(w, r)
	}))
	defer srv.Close()

	m := NewFoundation(foundationCfg(srv.URL), cache.New())
	train := seriesDays("2025-01-01", 30, func(i int) float64 { return 900 })
	require.NoError(t, m.Fit(context.Background(), train))

	targets := []time.Time{day("2025-01-31")}
	_, err := m.Predict(context.Background(), day("2025-01-30"), targets)
	require.NoError(t, err)
	_, err = m.Predict(context.Background(), day("2025-01-30"), targets)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "identical request should be served from cache")
}

func TestFoundationRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		forecastHandler(t)(w, r)
	}))
	defer srv.Close()

	m := NewFoundation(foundationCfg(srv.URL), cache.New())
	train := seriesDays("2025-01-01", 30, func(i int) float64 { return 900 })
	require.NoError(t, m.Fit(context.Background(), train))

	points, err := m.Predict(context.Background(), day("2025-01-30"), []time.Time{day("2025-01-31")})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestFoundationClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewFoundation(foundationCfg(srv.URL), cache.New())
	train := seriesDays("2025-01-01", 30, func(i int) float64 { return 900 })
	require.NoError(t, m.Fit(context.Background(), train))

	_, err := m.Predict(context.Background(), day("2025-01-30"), []time.Time{day("2025-01-31")})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestFoundationBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := foundationCfg(srv.URL)
	cfg.Timeout = 50 * time.Millisecond // keep retry budget small
	cfg.Breaker.ConsecutiveFailures = 2

	m := NewFoundation(cfg, cache.New())
	train := seriesDays("2025-01-01", 30, func(i int) float64 { return 900 })
	require.NoError(t, m.Fit(context.Background(), train))

	for i := 0; i < 2; i++ {
		// vary the issue date so the cache never interferes
		_, err := m.Predict(context.Background(), day("2025-01-30").AddDate(0, 0, i), []time.Time{day("2025-02-10")})
		require.Error(t, err)
	}

	_, err := m.Predict(context.Background(), day("2025-02-05"), []time.Time{day("2025-02-10")})
	require.Error(t, err)
	assert.ErrorContains(t, err, "circuit breaker is open")
}

func TestFoundationSendsEventPriorsAsCovariates(t *testing.T) {
	var got foundationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"forecasts":[{"ds":"2025-01-31","p50":1,"p80":2,"p90":3}]}`)
	}))
	defer srv.Close()

	m := NewFoundation(foundationCfg(srv.URL), cache.New())
	train := seriesDays("2025-01-01", 30, func(i int) float64 { return 900 })
	require.NoError(t, m.Fit(context.Background(), train))

	shrunkA, shrunkB := 1.35, 1.1
	m.SetEventPriors(map[string]domain.UpliftPrior{
		"street_fair": {EventFamily: "street_fair", UpliftMeanShrunk: &shrunkA, NDays: 4},
		"holiday":     {EventFamily: "holiday", UpliftMeanShrunk: &shrunkB, NDays: 2},
		"no_evidence": {EventFamily: "no_evidence", Confidence: domain.ConfidenceMissing},
	})

	_, err := m.Predict(context.Background(), day("2025-01-30"), []time.Time{day("2025-01-31")})
	require.NoError(t, err)

	require.Len(t, got.EventPriors, 2, "priors without evidence must be dropped")
	assert.Equal(t, "holiday", got.EventPriors[0].Family)
	assert.Equal(t, "street_fair", got.EventPriors[1].Family)
	assert.InDelta(t, 1.35, got.EventPriors[1].Uplift, 1e-9)
	assert.Equal(t, 4, got.EventPriors[1].NDays)
}

func TestFoundationContextWindowTruncation(t *testing.T) {
	var got foundationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"forecasts":[{"ds":"2025-04-11","p50":1,"p80":2,"p90":3}]}`)
	}))
	defer srv.Close()

	cfg := foundationCfg(srv.URL)
	cfg.ContextDays = 10
	m := NewFoundation(cfg, cache.New())

	train := seriesDays("2025-01-01", 100, func(i int) float64 { return float64(i) })
	require.NoError(t, m.Fit(context.Background(), train))

	_, err := m.Predict(context.Background(), day("2025-04-10"), []time.Time{day("2025-04-11")})
	require.NoError(t, err)
	assert.Len(t, got.Series, 10)
	assert.Equal(t, "2025-04-10", got.Series[9].DS, "window must end at the last training day")
}
