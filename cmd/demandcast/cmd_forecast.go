package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newForecastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forecast",
		Short: "Assemble the production forecast from the newest weight set",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, _, _, err := buildPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			rows, err := p.Forecast(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("rows", len(rows)).Msg("Forecast assembled")
			return nil
		},
	}
}
