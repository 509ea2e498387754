package app

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/config"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/database"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/export"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/fetch"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/gap"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/load"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/objectstore"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/observability"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/openmeteo"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/pipeline"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/scheduler"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/storage"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/validate"
)

// warehouse bundles the opened database handle with its dialect type, which
// the migrator needs to pick its driver.
type warehouse struct {
	db     *gorm.DB
	dbType string
}

func newWarehouse(lc fx.Lifecycle, cfg *config.Config) (*warehouse, error) {
	ref := cfg.ETL.Pipeline.DatabaseRef
	raw, ok := cfg.ETL.Database[ref]
	if !ok {
		return nil, fmt.Errorf("database connection '%s' is not configured", ref)
	}
	dbCfg, err := database.DecodeConfig(ref, raw)
	if err != nil {
		return nil, err
	}
	db, err := database.OpenWithConfig(ref, dbCfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing database connection '%s'.", ref)
			return database.Close(db)
		},
	})
	return &warehouse{db: db, dbType: dbCfg.Type}, nil
}

func newStorageProvider(lc fx.Lifecycle, cfg *config.Config) *storage.Provider {
	provider := storage.NewProvider(cfg.ETL.Storage)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.CloseAll()
		},
	})
	return provider
}

func newObjectStore(ctx context.Context, cfg *config.Config, provider *storage.Provider) (*objectstore.Store, error) {
	conn, err := provider.GetConnection(ctx, cfg.ETL.Pipeline.StorageRef)
	if err != nil {
		return nil, err
	}
	return objectstore.NewStore(conn, cfg.ETL.Pipeline.Bucket, cfg.ETL.Pipeline.Prefix), nil
}

func newDetector(w *warehouse, cfg *config.Config) *gap.Detector {
	return gap.NewDetector(w.db, cfg.ETL.Entities)
}

func newFetcher(client *openmeteo.Client, store *objectstore.Store, cfg *config.Config) *fetch.Fetcher {
	return fetch.NewFetcher(client, store, cfg.ETL.Pipeline.BatchSize)
}

func newLoader(w *warehouse, store *objectstore.Store, cfg *config.Config) *load.Loader {
	return load.NewLoader(w.db, store, cfg.ETL.Pipeline.LoadFileLimit)
}

func newExporter(ctx context.Context, w *warehouse, provider *storage.Provider, cfg *config.Config) (*export.Exporter, error) {
	exportCfg := cfg.ETL.Export
	ref := exportCfg.StorageRef
	if ref == "" {
		ref = cfg.ETL.Pipeline.StorageRef
	}
	conn, err := provider.GetConnection(ctx, ref)
	if err != nil {
		return nil, err
	}
	bucket := exportCfg.Bucket
	if bucket == "" {
		bucket = cfg.ETL.Pipeline.Bucket
	}
	baseDir := exportCfg.OutputBaseDir
	if baseDir == "" {
		baseDir = "export"
	}
	return export.NewExporter(w.db, conn, bucket, baseDir), nil
}

func newPipeline(
	cfg *config.Config,
	detector *gap.Detector,
	fetcher *fetch.Fetcher,
	gate *validate.Gate,
	loader *load.Loader,
	store *objectstore.Store,
	recorder *observability.Recorder,
	tracer *observability.Tracer,
) *pipeline.Pipeline {
	return pipeline.NewPipeline(
		cfg.ETL.Pipeline, cfg.ETL.Entities,
		detector, fetcher, gate, loader, store, recorder, tracer,
	)
}

func newScheduler(cfg *config.Config, p *pipeline.Pipeline) *scheduler.Scheduler {
	return scheduler.NewScheduler(cfg.ETL.Schedule, &pipelineRunner{pipeline: p})
}

// pipelineRunner adapts the pipeline's summary-returning runs to the
// scheduler's error-only interface.
type pipelineRunner struct {
	pipeline *pipeline.Pipeline
}

func (r *pipelineRunner) RunExtract(ctx context.Context) error {
	_, err := r.pipeline.RunExtract(ctx)
	return err
}

func (r *pipelineRunner) RunBackfill(ctx context.Context) error {
	_, err := r.pipeline.RunBackfill(ctx)
	return err
}

// Module provides every pipeline component to the Fx container.
var Module = fx.Options(
	fx.Provide(
		newWarehouse,
		newStorageProvider,
		newObjectStore,
		newClient,
		newDetector,
		newFetcher,
		validate.NewGate,
		newLoader,
		newExporter,
		newPipeline,
		newScheduler,
		observability.NewRecorder,
		newTracer,
	),
)

func newClient(cfg *config.Config) *openmeteo.Client {
	return openmeteo.NewClient(cfg.ETL.Provider)
}

func newTracer(ctx context.Context, cfg *config.Config, lc fx.Lifecycle) (*observability.Tracer, error) {
	tracer, err := observability.NewTracer(ctx, cfg.ETL.Tracing)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(stopCtx context.Context) error {
			return tracer.Shutdown(stopCtx)
		},
	})
	return tracer, nil
}
