package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/demandcast/demandcast/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var (
		dryRun         bool
		skipFoundation bool
		runBacktests   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full forecast pipeline",
		Long: `Run executes every pipeline stage: ingest, backtest, metrics, priors,
weight fitting, forecast assembly, and artifact writes. With
--run-backtests=false the backtest stage is skipped and predictions are
reloaded from the newest previous run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, _, _, err := buildPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			rl, err := p.Run(cmd.Context(), pipeline.Options{
				DryRun:           dryRun,
				SkipFoundation:   skipFoundation,
				ReusePredictions: !runBacktests,
			})
			if err != nil {
				return err
			}
			log.Info().
				Str("run_id", rl.RunID).
				Str("status", rl.Status).
				Int("rows", rl.RowsWritten).
				Int("cutoffs", rl.CutoffsTotal).
				Msg("Pipeline run complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run the pipeline without writing forecast artifacts")
	cmd.Flags().BoolVar(&skipFoundation, "skip-foundation", false, "Exclude the foundation model from the ensemble")
	cmd.Flags().BoolVar(&runBacktests, "run-backtests", true, "Run fresh backtests instead of reusing the newest run's predictions")
	return cmd
}
