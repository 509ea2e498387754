package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/config"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/scheduler"
)

type countingRunner struct {
	extracts  atomic.Int32
	backfills atomic.Int32
}

func (r *countingRunner) RunExtract(ctx context.Context) error {
	r.extracts.Add(1)
	return nil
}

func (r *countingRunner) RunBackfill(ctx context.Context) error {
	r.backfills.Add(1)
	return nil
}

func TestStartRejectsInvalidCron(t *testing.T) {
	s := scheduler.NewScheduler(config.ScheduleConfig{
		ExtractCron:  "not a cron",
		BackfillCron: "0 2 * * 0",
	}, &countingRunner{})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract")
}

func TestStartRejectsInvalidBackfillCron(t *testing.T) {
	s := scheduler.NewScheduler(config.ScheduleConfig{
		ExtractCron:  "0 * * * *",
		BackfillCron: "bogus",
	}, &countingRunner{})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backfill")
}

func TestStartAndStopWithValidSchedules(t *testing.T) {
	runner := &countingRunner{}
	s := scheduler.NewScheduler(config.ScheduleConfig{
		ExtractCron:  "0 * * * *",
		BackfillCron: "0 2 * * 0",
	}, runner)

	require.NoError(t, s.Start(context.Background()))
	// Give the scheduler a moment to settle, then stop; with hourly and
	// weekly schedules nothing should have fired.
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(0), runner.extracts.Load())
	assert.Equal(t, int32(0), runner.backfills.Load())
}
