// Package scheduler drives the recurring extract and backfill runs from
// cron expressions.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/config"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/exception"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

const moduleName = "scheduler"

// Runner is the slice of the pipeline the scheduler drives.
type Runner interface {
	RunExtract(ctx context.Context) error
	RunBackfill(ctx context.Context) error
}

// Scheduler runs the extract and backfill pipelines on their cron schedules.
type Scheduler struct {
	cfg       config.ScheduleConfig
	runner    Runner
	scheduler *gocron.Scheduler
}

// NewScheduler creates a Scheduler. Schedules fire in UTC so job windows
// line up with the UTC-aligned hourly slots.
func NewScheduler(cfg config.ScheduleConfig, runner Runner) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		runner:    runner,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start registers both jobs and starts the scheduler asynchronously.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.Cron(s.cfg.ExtractCron).Do(func() {
		if err := s.runner.RunExtract(ctx); err != nil {
			logger.Errorf("Scheduled extract run failed: %v", err)
		}
	})
	if err != nil {
		return exception.NewETLError(moduleName, "failed to schedule extract job", err, false)
	}

	_, err = s.scheduler.Cron(s.cfg.BackfillCron).Do(func() {
		if err := s.runner.RunBackfill(ctx); err != nil {
			logger.Errorf("Scheduled backfill run failed: %v", err)
		}
	})
	if err != nil {
		return exception.NewETLError(moduleName, "failed to schedule backfill job", err, false)
	}

	s.scheduler.StartAsync()
	logger.Infof("Scheduler started: extract '%s', backfill '%s'.", s.cfg.ExtractCron, s.cfg.BackfillCron)
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	logger.Infof("Scheduler stopped.")
}
