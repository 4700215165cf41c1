package pipeline

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/artifacts"
	"github.com/demandcast/demandcast/internal/domain"
	"github.com/demandcast/demandcast/internal/persistence"
	"github.com/demandcast/demandcast/internal/persistence/postgres"
)

// mirrorState lazily opens the Postgres mirror. Files are the source of
// truth; any failure here downgrades the mirror to disabled with a warning
// and never fails the run.
type mirrorState struct {
	once sync.Once
	db   *sqlx.DB
	repo *persistence.Repository
}

func (p *Pipeline) repository(ctx context.Context) *persistence.Repository {
	if !p.cfg.Database.Enabled {
		return nil
	}

	p.pg.once.Do(func() {
		db, err := postgres.Connect(ctx, p.cfg.Database)
		if err != nil {
			log.Warn().Err(err).Msg("Postgres mirror unavailable, continuing with files only")
			return
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Warn().Err(err).Msg("Postgres mirror migration failed, continuing with files only")
			db.Close()
			return
		}
		repo := postgres.NewRepository(db, p.cfg.Database)
		p.pg.db = db
		p.pg.repo = &repo
	})
	return p.pg.repo
}

// Close releases the mirror connection if one was opened.
func (p *Pipeline) Close() {
	if p.pg.db != nil {
		p.pg.db.Close()
	}
}

// mirror pushes the run's rows to Postgres, logging failures as warnings.
func (p *Pipeline) mirror(ctx context.Context, runID string, predictions []domain.PredictionRow, ws *domain.WeightSet, forecastRows []domain.ForecastRow) {
	repo := p.repository(ctx)
	if repo == nil {
		return
	}

	if err := repo.Predictions.InsertBatch(ctx, runID, predictions); err != nil {
		log.Warn().Err(err).Msg("Failed to mirror predictions to Postgres")
	}
	if err := repo.Weights.Save(ctx, ws); err != nil {
		log.Warn().Err(err).Msg("Failed to mirror weight set to Postgres")
	}
	if err := repo.Forecasts.UpsertRows(ctx, runID, forecastRows); err != nil {
		log.Warn().Err(err).Msg("Failed to mirror forecast to Postgres")
	}
}

func (p *Pipeline) mirrorRunLog(ctx context.Context, rl artifacts.RunLog) {
	repo := p.repository(ctx)
	if repo == nil {
		return
	}
	if err := repo.Runs.Record(ctx, rl); err != nil {
		log.Warn().Err(err).Msg("Failed to mirror run log to Postgres")
	}
}
