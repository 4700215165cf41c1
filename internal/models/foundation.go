package models

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/demandcast/demandcast/internal/cache"
	"github.com/demandcast/demandcast/internal/config"
	"github.com/demandcast/demandcast/internal/domain"
)

// Foundation is the client for the external foundation-model inference
// service. The service is slow and rate-limited, so calls go through a
// request rate limiter, exponential-backoff retries on transient failures,
// and a circuit breaker that sheds load after repeated failures. Responses
// are cached keyed by the context window, since backtest cutoffs frequently
// replay identical windows.
type Foundation struct {
	cfg     config.FoundationConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cache   cache.Cache

	// OnOutcome, when set, is called once per Predict with "cache_hit",
	// "ok", or "error". The pipeline points it at the request counter.
	OnOutcome func(outcome string)

	window domain.Series
	priors map[string]domain.UpliftPrior
	fitted bool
}

type foundationRequest struct {
	Series      []foundationObs        `json:"series"`
	IssueDate   string                 `json:"issue_date"`
	TargetDates []string               `json:"target_dates"`
	Quantiles   []float64              `json:"quantiles"`
	EventPriors []foundationEventPrior `json:"event_priors,omitempty"`
}

type foundationEventPrior struct {
	Family string  `json:"event_family"`
	Uplift float64 `json:"uplift_mean_shrunk"`
	NDays  int     `json:"n_days"`
}

type foundationObs struct {
	DS string  `json:"ds"`
	Y  float64 `json:"y"`
}

type foundationResponse struct {
	Forecasts []struct {
		DS  string  `json:"ds"`
		P50 float64 `json:"p50"`
		P80 float64 `json:"p80"`
		P90 float64 `json:"p90"`
	} `json:"forecasts"`
}

// NewFoundation builds the client from configuration. The breaker trips
// after the configured run of consecutive failures and half-opens after its
// timeout, matching the provider-guard settings used for flaky upstreams.
func NewFoundation(cfg config.FoundationConfig, c cache.Cache) *Foundation {
	settings := gobreaker.Settings{
		Name:        "foundation-model",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Foundation breaker state change")
		},
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	return &Foundation{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		cache:   c,
	}
}

func (m *Foundation) Name() string { return NameFoundation }

// SetEventPriors records the uplift priors of the current cutoff; they ride
// along as covariates on the next inference request. The backtest harness
// calls this with out-of-fold priors before every Fit.
func (m *Foundation) SetEventPriors(priors map[string]domain.UpliftPrior) {
	m.priors = priors
}

// Fit keeps the most recent context window; the heavy lifting happens
// service-side at predict time.
func (m *Foundation) Fit(_ context.Context, train domain.Series) error {
	if len(train) == 0 {
		return fmt.Errorf("foundation: empty training series")
	}
	if m.cfg.ContextDays > 0 && len(train) > m.cfg.ContextDays {
		train = train[len(train)-m.cfg.ContextDays:]
	}
	m.window = train
	m.fitted = true
	return nil
}

func (m *Foundation) Predict(ctx context.Context, issueDate time.Time, targetDates []time.Time) ([]domain.QuantilePoint, error) {
	if !m.fitted {
		return nil, fmt.Errorf("foundation: predict before fit")
	}

	req := m.buildRequest(issueDate, targetDates)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("foundation: marshal request: %w", err)
	}

	key := m.cacheKey(body)
	if cached, ok := m.cache.Get(key); ok {
		log.Debug().Str("issue_date", req.IssueDate).Msg("Foundation response served from cache")
		m.reportOutcome("cache_hit")
		return m.decode(cached, targetDates)
	}

	if err := m.limiter.Wait(ctx); err != nil {
		m.reportOutcome("error")
		return nil, fmt.Errorf("foundation: rate limit wait: %w", err)
	}

	raw, err := m.breaker.Execute(func() (interface{}, error) {
		return m.post(ctx, body)
	})
	if err != nil {
		m.reportOutcome("error")
		return nil, fmt.Errorf("foundation: inference call failed: %w", err)
	}
	m.reportOutcome("ok")

	payload := raw.([]byte)
	m.cache.Set(key, payload, 24*time.Hour)
	return m.decode(payload, targetDates)
}

// post sends one inference request, retrying transient failures with
// exponential backoff. Client errors (4xx) are permanent and not retried.
func (m *Foundation) post(ctx context.Context, body []byte) ([]byte, error) {
	var payload []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("inference service %d: %s", resp.StatusCode, truncate(data, 200))
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("inference service %d: %s", resp.StatusCode, truncate(data, 200)))
		}
		payload = data
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = m.cfg.Timeout
	if err := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); err != nil {
		return nil, err
	}
	return payload, nil
}

func (m *Foundation) buildRequest(issueDate time.Time, targetDates []time.Time) foundationRequest {
	series := make([]foundationObs, len(m.window))
	for i, obs := range m.window {
		series[i] = foundationObs{DS: obs.DS.Format("2006-01-02"), Y: obs.Y}
	}
	targets := make([]string, len(targetDates))
	for i, ds := range targetDates {
		targets[i] = domain.Day(ds).Format("2006-01-02")
	}
	return foundationRequest{
		Series:      series,
		IssueDate:   domain.Day(issueDate).Format("2006-01-02"),
		TargetDates: targets,
		Quantiles:   []float64{0.5, 0.8, 0.9},
		EventPriors: m.eventPriors(),
	}
}

// eventPriors flattens the priors carrying real evidence, sorted by family
// so the marshalled request, and with it the cache key, is deterministic.
func (m *Foundation) eventPriors() []foundationEventPrior {
	if len(m.priors) == 0 {
		return nil
	}
	out := make([]foundationEventPrior, 0, len(m.priors))
	for family, prior := range m.priors {
		if prior.UpliftMeanShrunk == nil {
			continue
		}
		out = append(out, foundationEventPrior{Family: family, Uplift: *prior.UpliftMeanShrunk, NDays: prior.NDays})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Family < out[j].Family })
	return out
}

func (m *Foundation) decode(payload []byte, targetDates []time.Time) ([]domain.QuantilePoint, error) {
	var resp foundationResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("foundation: decode response: %w", err)
	}
	byDS := make(map[time.Time]domain.QuantilePoint, len(resp.Forecasts))
	for _, f := range resp.Forecasts {
		ds, err := time.Parse("2006-01-02", f.DS)
		if err != nil {
			continue
		}
		ds = domain.Day(ds)
		byDS[ds] = domain.QuantilePoint{DS: ds, P50: f.P50, P80: f.P80, P90: f.P90}
	}
	points := make([]domain.QuantilePoint, 0, len(targetDates))
	for _, ds := range targetDates {
		if point, ok := byDS[domain.Day(ds)]; ok {
			points = append(points, point)
		}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("foundation: response covered none of %d target dates", len(targetDates))
	}
	return points, nil
}

func (m *Foundation) reportOutcome(outcome string) {
	if m.OnOutcome != nil {
		m.OnOutcome(outcome)
	}
}

// cacheKey hashes the full request body so any change in window, issue date,
// targets, or priors misses the cache.
func (m *Foundation) cacheKey(body []byte) string {
	sum := sha256.Sum256(body)
	return cache.Key("foundation", hex.EncodeToString(sum[:]))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
