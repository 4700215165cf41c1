package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration. It is loaded once at startup,
// validated, and passed by value to component constructors; no component
// reads configuration from ambient global state.
type Config struct {
	Data        DataConfig        `yaml:"data"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Uplift      UpliftConfig      `yaml:"uplift"`
	Ensemble    EnsembleConfig    `yaml:"ensemble"`
	Forecast    ForecastConfig    `yaml:"forecast"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Guardrails  GuardrailConfig   `yaml:"guardrails"`
	Models      ModelsConfig      `yaml:"models"`
	Output      OutputConfig      `yaml:"output"`
	Database    DatabaseConfig    `yaml:"database"`
	Cache       CacheConfig       `yaml:"cache"`
	Server      ServerConfig      `yaml:"server"`
}

// DataConfig locates the input files and sets ingestion thresholds.
type DataConfig struct {
	SalesCSV        string  `yaml:"sales_csv"`
	HoursCSV        string  `yaml:"hours_csv"`
	EventsCSV       string  `yaml:"events_csv"`
	OverridesYAML   string  `yaml:"overrides_yaml"`
	ClosedThreshold float64 `yaml:"closed_threshold"`
}

// BacktestConfig controls rolling-origin cutoff generation and parallelism.
type BacktestConfig struct {
	MinTrainDays   int `yaml:"min_train_days"`
	StepDays       int `yaml:"step_days"`
	MaxHorizonDays int `yaml:"max_horizon_days"`
	// Parallelism caps concurrent cutoff workers; 0 means NumCPU capped at 8.
	Parallelism int `yaml:"parallelism"`
	// PeakPercentile sets the open-day actual quantile above which a day
	// counts as a peak in the peak metrics.
	PeakPercentile float64 `yaml:"peak_percentile"`
}

// UpliftConfig controls the event uplift prior estimator.
type UpliftConfig struct {
	LookbackWeeks int              `yaml:"lookback_weeks"`
	ShrinkK       float64          `yaml:"shrink_k"`
	Confidence    ConfidenceConfig `yaml:"confidence"`
}

// ConfidenceConfig sets the n_days thresholds for prior confidence grading.
type ConfidenceConfig struct {
	HighMin   int `yaml:"high_min"`
	MediumMin int `yaml:"medium_min"`
	LowMin    int `yaml:"low_min"`
}

// EnsembleConfig controls the per-bucket weight fitter.
type EnsembleConfig struct {
	MinRows   int             `yaml:"min_rows"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
}

// OptimizerConfig tunes the coordinate-descent weight search.
type OptimizerConfig struct {
	MaxEvaluations    int     `yaml:"max_evaluations"`
	Tolerance         float64 `yaml:"tolerance"`
	InitialStep       float64 `yaml:"initial_step"`
	BacktrackingRatio float64 `yaml:"backtracking_ratio"`
	MinStep           float64 `yaml:"min_step"`
	EarlyStopWindow   int     `yaml:"early_stop_window"`
	Seed              uint64  `yaml:"seed"`
}

// ForecastConfig selects the production window and the candidate models.
type ForecastConfig struct {
	HorizonDays int      `yaml:"horizon_days"`
	ModelNames  []string `yaml:"models"`
}

// CalibrationConfig controls the growth calibration overlay. TargetYoY nil
// disables calibration entirely.
type CalibrationConfig struct {
	TargetYoY       *float64 `yaml:"target_yoy"`
	SpikeMultiplier float64  `yaml:"spike_multiplier"`
	MinScale        float64  `yaml:"min_scale"`
	MaxScale        float64  `yaml:"max_scale"`
	MinCoverage     float64  `yaml:"min_coverage"`
}

// GuardrailConfig holds the numeric tolerance for invariant checks.
type GuardrailConfig struct {
	Epsilon float64 `yaml:"epsilon"`
}

// ModelsConfig configures individual forecasters.
type ModelsConfig struct {
	Foundation FoundationConfig `yaml:"foundation"`
	GBM        GBMConfig        `yaml:"gbm"`
}

// GBMConfig locates the offline-trained gradient-boosted quantile artifact.
type GBMConfig struct {
	ArtifactCSV string `yaml:"artifact_csv"`
}

// FoundationConfig configures the foundation-model inference client.
type FoundationConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Endpoint     string        `yaml:"endpoint"`
	ContextDays  int           `yaml:"context_days"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker guarding the inference endpoint.
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// OutputConfig locates the artifact tree.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// DatabaseConfig configures the optional Postgres mirror.
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig sets cache defaults; the backend is chosen by REDIS_ADDR.
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ServerConfig configures the metrics/artifacts HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML config at path (if it exists), applies environment
// overrides, fills defaults, and validates. An empty path yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file or overrides are given.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			SalesCSV:        "data/sales.csv",
			HoursCSV:        "data/hours.csv",
			EventsCSV:       "data/events.csv",
			ClosedThreshold: 200.0,
		},
		Backtest: BacktestConfig{
			MinTrainDays:   120,
			StepDays:       14,
			MaxHorizonDays: 380,
			PeakPercentile: 0.90,
		},
		Uplift: UpliftConfig{
			LookbackWeeks: 8,
			ShrinkK:       10.0,
			Confidence:    ConfidenceConfig{HighMin: 5, MediumMin: 2, LowMin: 1},
		},
		Ensemble: EnsembleConfig{
			MinRows: 50,
			Optimizer: OptimizerConfig{
				MaxEvaluations:    200,
				Tolerance:         0.001,
				InitialStep:       0.05,
				BacktrackingRatio: 0.5,
				MinStep:           1e-6,
				EarlyStopWindow:   10,
				Seed:              1337,
			},
		},
		Forecast: ForecastConfig{
			HorizonDays: 380,
			ModelNames:  []string{"seasonal_naive", "weekday_median"},
		},
		Calibration: CalibrationConfig{
			SpikeMultiplier: 1.8,
			MinScale:        0.8,
			MaxScale:        1.25,
			MinCoverage:     0.6,
		},
		Guardrails: GuardrailConfig{Epsilon: 1e-6},
		Models: ModelsConfig{
			Foundation: FoundationConfig{
				Endpoint:     "http://localhost:8800/forecast",
				ContextDays:  512,
				Timeout:      30 * time.Second,
				RateLimitRPS: 2,
				Breaker: BreakerConfig{
					MaxRequests:         2,
					Interval:            time.Minute,
					Timeout:             2 * time.Minute,
					ConsecutiveFailures: 5,
				},
			},
		},
		Output: OutputConfig{Dir: "out"},
		Database: DatabaseConfig{
			QueryTimeout:    30 * time.Second,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Cache:  CacheConfig{DefaultTTL: 15 * time.Minute},
		Server: ServerConfig{Addr: ":8090"},
	}
}

// applyEnvOverrides maps deploy-sensitive environment variables onto cfg.
func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if enabled := os.Getenv("PG_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			cfg.Database.Enabled = val
		}
	}
	if dir := os.Getenv("DEMANDCAST_OUTPUT_DIR"); dir != "" {
		cfg.Output.Dir = dir
	}
	if addr := os.Getenv("DEMANDCAST_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if endpoint := os.Getenv("DEMANDCAST_FOUNDATION_ENDPOINT"); endpoint != "" {
		cfg.Models.Foundation.Endpoint = endpoint
	}
}

// Validate rejects configurations that cannot produce a correct run.
func (c *Config) Validate() error {
	if c.Data.SalesCSV == "" {
		return fmt.Errorf("data.sales_csv is required")
	}
	if c.Data.ClosedThreshold < 0 {
		return fmt.Errorf("data.closed_threshold cannot be negative")
	}
	if c.Backtest.MinTrainDays <= 0 {
		return fmt.Errorf("backtest.min_train_days must be positive")
	}
	if c.Backtest.StepDays <= 0 {
		return fmt.Errorf("backtest.step_days must be positive")
	}
	if c.Backtest.MaxHorizonDays < 1 || c.Backtest.MaxHorizonDays > 380 {
		return fmt.Errorf("backtest.max_horizon_days must be in 1..380")
	}
	if c.Backtest.Parallelism < 0 {
		return fmt.Errorf("backtest.parallelism cannot be negative")
	}
	if p := c.Backtest.PeakPercentile; p <= 0 || p >= 1 {
		return fmt.Errorf("backtest.peak_percentile must be in (0,1)")
	}
	if c.Uplift.LookbackWeeks <= 0 {
		return fmt.Errorf("uplift.lookback_weeks must be positive")
	}
	if c.Uplift.ShrinkK < 0 {
		return fmt.Errorf("uplift.shrink_k cannot be negative")
	}
	if c.Uplift.Confidence.HighMin <= c.Uplift.Confidence.MediumMin {
		return fmt.Errorf("uplift.confidence.high_min must exceed medium_min")
	}
	if c.Ensemble.MinRows < 1 {
		return fmt.Errorf("ensemble.min_rows must be positive")
	}
	if c.Ensemble.Optimizer.MaxEvaluations < 1 {
		return fmt.Errorf("ensemble.optimizer.max_evaluations must be positive")
	}
	if r := c.Ensemble.Optimizer.BacktrackingRatio; r <= 0 || r >= 1 {
		return fmt.Errorf("ensemble.optimizer.backtracking_ratio must be in (0,1)")
	}
	if c.Forecast.HorizonDays < 1 || c.Forecast.HorizonDays > 380 {
		return fmt.Errorf("forecast.horizon_days must be in 1..380")
	}
	if len(c.Forecast.ModelNames) == 0 {
		return fmt.Errorf("forecast.models cannot be empty")
	}
	if c.Calibration.MinScale <= 0 || c.Calibration.MaxScale < c.Calibration.MinScale {
		return fmt.Errorf("calibration scale bounds invalid: min=%f max=%f",
			c.Calibration.MinScale, c.Calibration.MaxScale)
	}
	if c.Guardrails.Epsilon <= 0 {
		return fmt.Errorf("guardrails.epsilon must be positive")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database is enabled")
	}
	if c.Models.Foundation.Enabled && c.Models.Foundation.Endpoint == "" {
		return fmt.Errorf("models.foundation.endpoint is required when enabled")
	}
	return nil
}

// Hash returns the sha256 of the canonical YAML encoding, recorded in the
// run log so artifact consumers can tell config drift from data drift.
func (c *Config) Hash() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
