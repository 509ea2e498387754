// Package app assembles the pipeline components into a runnable application
// using uber-fx.
package app

import (
	"context"
	"embed"
	"fmt"

	"go.uber.org/fx"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/config"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/export"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/migration"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/observability"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/pipeline"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/scheduler"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

// Run modes accepted on the command line.
const (
	ModeExtract  = "extract"
	ModeBackfill = "backfill"
	ModeLoad     = "load"
	ModeExport   = "export"
	ModeSchedule = "schedule"
)

// RunApplication loads configuration, builds the Fx container and executes
// the requested run mode. It blocks until the run finishes or the context
// is canceled.
func RunApplication(appCtx context.Context, mode, envFilePath string, embeddedConfig config.EmbeddedConfig, migrationsFS embed.FS) error {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	var runErr error
	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(func() context.Context { return appCtx }),
		Module,
		fx.Invoke(func(
			lc fx.Lifecycle,
			shutdowner fx.Shutdowner,
			w *warehouse,
			p *pipeline.Pipeline,
			exporter *export.Exporter,
			sched *scheduler.Scheduler,
			recorder *observability.Recorder,
		) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					recorder.Serve(appCtx, cfg.ETL.Metrics.ListenAddr)

					migrator := migration.NewMigrator(w.db, w.dbType)
					if err := migrator.Up(ctx, migrationsFS, "resources/migrations/"+w.dbType); err != nil {
						return err
					}

					go func() {
						defer func() {
							if r := recover(); r != nil {
								runErr = fmt.Errorf("panic during %s run: %v", mode, r)
								logger.Errorf("Panic recovered in pipeline run: %v", r)
							}
							if mode != ModeSchedule || runErr != nil {
								if err := shutdowner.Shutdown(); err != nil {
									logger.Errorf("Failed to shut down application: %v", err)
								}
							}
						}()
						runErr = dispatch(appCtx, mode, p, exporter, sched)
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					if mode == ModeSchedule {
						sched.Stop()
					}
					logger.Infof("Application is shutting down.")
					return nil
				},
			})
		}),
	)

	app.Run()
	if app.Err() != nil {
		return app.Err()
	}
	return runErr
}

// dispatch executes one run of the requested mode. Schedule mode registers
// the cron jobs and returns; the Fx container keeps the process alive until
// a signal arrives.
func dispatch(ctx context.Context, mode string, p *pipeline.Pipeline, exporter *export.Exporter, sched *scheduler.Scheduler) error {
	switch mode {
	case ModeExtract:
		summary, err := p.RunExtract(ctx)
		if err != nil {
			return err
		}
		return summary.Errors
	case ModeBackfill:
		summary, err := p.RunBackfill(ctx)
		if err != nil {
			return err
		}
		return summary.Errors
	case ModeLoad:
		summary, err := p.RunLoadAll(ctx)
		if err != nil {
			return err
		}
		return summary.Errors
	case ModeExport:
		return exporter.Export(ctx)
	case ModeSchedule:
		return sched.Start(ctx)
	default:
		return fmt.Errorf("unknown run mode: %s", mode)
	}
}
