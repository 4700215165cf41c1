package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/demandcast/demandcast/internal/cache"
	"github.com/demandcast/demandcast/internal/config"
	plog "github.com/demandcast/demandcast/internal/log"
	"github.com/demandcast/demandcast/internal/pipeline"
	"github.com/demandcast/demandcast/internal/telemetry"
)

const (
	appName = "demandcast"
	version = "v1.2.0"
)

var (
	flagConfig   string
	flagLogLevel string
	flagProgress string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Daily retail sales quantile forecasting",
		Version: version,
		Long: `demandcast produces daily p50/p80/p90 sales forecasts for a single store:
rolling-origin backtests, event uplift priors, per-horizon ensemble weights,
and a guardrailed forecast assembly with purchasing and scheduling rollups.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flagLogLevel)
		},
	}

	// Accept underscore flag spellings so flags match config key names.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config/demandcast.yaml", "Path to config YAML")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&flagProgress, "progress", "auto", "Progress output mode (auto|plain|json)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newBacktestCmd())
	rootCmd.AddCommand(newPriorsCmd())
	rootCmd.AddCommand(newFitCmd())
	rootCmd.AddCommand(newForecastCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// setupLogging configures zerolog: console output on a terminal, JSON when
// piped so log processors get structured lines.
func setupLogging(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = time.RFC3339

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return nil
}

// buildPipeline loads configuration and wires a pipeline with its bus, so
// every subcommand shares one construction path.
func buildPipeline() (*pipeline.Pipeline, *config.Config, *telemetry.Metrics, *pipeline.Bus, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	mode, err := plog.ParseMode(flagProgress)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	metrics := telemetry.New()
	bus := pipeline.NewBus()
	p := pipeline.New(cfg, metrics, bus, cache.NewAuto(), mode)
	return p, cfg, metrics, bus, nil
}
