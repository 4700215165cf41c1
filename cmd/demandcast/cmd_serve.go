package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpiface "github.com/demandcast/demandcast/internal/interfaces/http"
	"github.com/demandcast/demandcast/internal/persistence"
	"github.com/demandcast/demandcast/internal/persistence/postgres"
	"github.com/demandcast/demandcast/internal/pipeline"
)

func newServeCmd() *cobra.Command {
	var (
		addr  string
		every time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics, run history, artifacts, and the event stream over HTTP",
		Long: `Serve starts the operational HTTP surface: /healthz, /metrics, /api/runs,
/artifacts/, and /ws/events. With --every the full pipeline also runs in-process
on that interval, so websocket clients see live step events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cfg, metrics, bus, err := buildPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			if addr == "" {
				addr = cfg.Server.Addr
			}

			var runs persistence.RunRepo
			if cfg.Database.Enabled {
				db, err := postgres.Connect(cmd.Context(), cfg.Database)
				if err != nil {
					log.Warn().Err(err).Msg("Postgres unavailable, serving runs from artifact tree")
				} else {
					defer db.Close()
					if err := postgres.Migrate(cmd.Context(), db); err != nil {
						log.Warn().Err(err).Msg("Postgres migration failed, serving runs from artifact tree")
					} else {
						repo := postgres.NewRepository(db, cfg.Database)
						runs = repo.Runs
					}
				}
			}

			srv := httpiface.NewServer(httpiface.Options{
				Addr:         addr,
				Metrics:      metrics,
				Bus:          bus,
				Runs:         runs,
				ArtifactsDir: cfg.Output.Dir,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			if every > 0 {
				go runOnInterval(ctx, p, every)
			}

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr from config)")
	cmd.Flags().DurationVar(&every, "every", 0, "Also run the pipeline on this interval (0 disables)")
	return cmd
}

// runOnInterval executes the pipeline immediately and then on each tick until
// ctx is cancelled. Failures are logged and the next tick retries.
func runOnInterval(ctx context.Context, p *pipeline.Pipeline, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if rl, err := p.Run(ctx, pipeline.Options{}); err != nil {
			log.Error().Err(err).Msg("Scheduled pipeline run failed")
		} else {
			log.Info().Str("run_id", rl.RunID).Msg("Scheduled pipeline run complete")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
