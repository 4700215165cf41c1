package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newFitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fit",
		Short: "Refit ensemble weights from the newest run's predictions",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, _, _, err := buildPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			ws, err := p.Fit(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().
				Str("weight_set", ws.ID).
				Int("buckets", len(ws.Buckets)).
				Msg("Weights fitted")
			return nil
		},
	}
}
