package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/wildcroft/bng-engine/internal/clients/postcodes"
	"github.com/wildcroft/bng-engine/internal/config"
	"github.com/wildcroft/bng-engine/internal/database"
	"github.com/wildcroft/bng-engine/internal/modules/allocation"
	"github.com/wildcroft/bng-engine/internal/modules/geography"
	"github.com/wildcroft/bng-engine/internal/modules/jobs"
	"github.com/wildcroft/bng-engine/internal/modules/reference"
)

// Wire initializes all dependencies and returns a fully configured
// container. Order of operations:
//  1. Open and migrate the databases
//  2. Build clients and repositories
//  3. Build services on top of them
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	referenceDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "reference.db"),
		Profile: database.ProfileStandard,
		Name:    "reference",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open reference database: %w", err)
	}
	container.ReferenceDB = referenceDB

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	container.CacheDB = cacheDB

	for _, db := range []*database.DB{referenceDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	container.Geocoder = postcodes.NewClient(cfg.GeocoderBaseURL, log)

	referenceRepo := reference.NewRepository(referenceDB.Conn(), log)
	container.ReferenceStore = reference.NewStore(referenceRepo, cfg.ReferenceTTL, log)

	geographyRepo := geography.NewRepository(referenceDB.Conn(), log)
	container.Resolver = geography.NewResolver(geographyRepo, container.Geocoder,
		cfg.NeighbourTTL, cfg.GeocodeTTL, log)

	container.Engine = allocation.NewEngine(log)

	container.Jobs = jobs.NewService(
		jobs.NewStore(cacheDB.Conn(), log),
		jobs.NewResultCache(cacheDB.Conn(), cfg.ResultTTL, log),
		container.ReferenceStore,
		container.Resolver,
		container.Engine,
		jobs.ServiceConfig{
			Workers:    cfg.WorkerCount,
			JobTimeout: cfg.JobTimeout,
			Engine: allocation.Params{
				ContractT1: cfg.ContractT1,
				ContractT2: cfg.ContractT2,
				ContractT3: cfg.ContractT3,
				Solver:     cfg.Solver,
			},
		},
		log,
	)

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, nil
}
