package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newBacktestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backtest",
		Short: "Run rolling-origin backtests and write prediction artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, _, _, err := buildPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			result, err := p.Backtest(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().
				Int("cutoffs", result.Cutoffs).
				Int("failed", result.Failed).
				Int("rows", len(result.Rows)).
				Msg("Backtest complete")
			return nil
		},
	}
}
