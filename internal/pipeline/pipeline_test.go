package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/config"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/fetch"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/gap"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/load"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/objectstore"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/observability"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/pipeline"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/storage"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/timeslot"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/validate"
)

func f64(v float64) *float64 { return &v }

// syntheticProvider answers every request with full coverage of the asked
// window, optionally failing first. Entities are fetched concurrently, so
// the failure counter is guarded.
type syntheticProvider struct {
	mu       sync.Mutex
	temp     float64
	failures int
}

func (p *syntheticProvider) FetchHourly(ctx context.Context, lat, lon float64, window timeslot.Window) (*objectstore.Payload, error) {
	p.mu.Lock()
	fail := p.failures > 0
	if fail {
		p.failures--
	}
	temp := p.temp
	p.mu.Unlock()
	if fail {
		return nil, errors.New("provider unavailable")
	}
	payload := &objectstore.Payload{Latitude: lat, Longitude: lon, Timezone: "UTC"}
	for _, slot := range window.Sequence() {
		payload.Hourly.Time = append(payload.Hourly.Time, slot.Format("2006-01-02T15:04"))
		payload.Hourly.Temperature2M = append(payload.Hourly.Temperature2M, f64(temp))
		payload.Hourly.Precipitation = append(payload.Hourly.Precipitation, f64(0.0))
		payload.Hourly.WindSpeed10M = append(payload.Hourly.WindSpeed10M, f64(5.0))
	}
	return payload, nil
}

// setTemp swaps the reported temperature between runs.
func (p *syntheticProvider) setTemp(v float64) {
	p.mu.Lock()
	p.temp = v
	p.mu.Unlock()
}

// perLatitudeProvider serves a different temperature per coordinate, so one
// entity can return out-of-range values while the others stay valid.
type perLatitudeProvider struct {
	temps map[float64]float64
}

func (p *perLatitudeProvider) FetchHourly(ctx context.Context, lat, lon float64, window timeslot.Window) (*objectstore.Payload, error) {
	inner := &syntheticProvider{temp: p.temps[lat]}
	return inner.FetchHourly(ctx, lat, lon, window)
}

type harness struct {
	db       *gorm.DB
	pipeline *pipeline.Pipeline
}

func newHarness(t *testing.T, provider fetch.Provider, temp float64) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&load.Observation{}, &load.IngestLedger{}))

	conn, err := storage.NewLocalConnection(storage.Config{BaseDir: t.TempDir(), BucketName: "raw"}, "test")
	require.NoError(t, err)
	store := objectstore.NewStore(conn, "raw", "weather")

	entities := []config.EntityConfig{
		{Name: "warsaw", Latitude: 52.23, Longitude: 21.01},
		{Name: "berlin", Latitude: 52.52, Longitude: 13.41},
	}
	cfg := config.PipelineConfig{
		BatchSize:             24,
		LookbackHours:         3,
		BackfillLookbackHours: 12,
		Workers:               2,
	}
	if provider == nil {
		provider = &syntheticProvider{temp: temp}
	}
	tracer, err := observability.NewTracer(context.Background(), config.TracingConfig{})
	require.NoError(t, err)

	p := pipeline.NewPipeline(
		cfg, entities,
		gap.NewDetector(db, entities),
		fetch.NewFetcher(provider, store, cfg.BatchSize),
		validate.NewGate(),
		load.NewLoader(db, store, 0),
		store,
		observability.NewRecorder(),
		tracer,
	)
	return &harness{db: db, pipeline: p}
}

func TestRunExtractFillsEmptyStore(t *testing.T) {
	h := newHarness(t, nil, 11.0)

	summary, err := h.pipeline.RunExtract(context.Background())
	require.NoError(t, err)
	assert.NoError(t, summary.Errors)

	// Two entities, three-hour lookback.
	assert.Equal(t, 6, summary.SlotsRequested)
	assert.Equal(t, 6, summary.ObjectsWritten)
	assert.Equal(t, 6, summary.ObjectsLoaded)
	assert.Equal(t, 6, summary.RowsUpserted)
	assert.Equal(t, 0, summary.StillMissing)
	assert.NotEmpty(t, summary.RunID)

	var count int64
	require.NoError(t, h.db.Model(&load.Observation{}).Count(&count).Error)
	assert.Equal(t, int64(6), count)
}

func TestRunExtractRowCountConverges(t *testing.T) {
	h := newHarness(t, nil, 11.0)
	ctx := context.Background()

	_, err := h.pipeline.RunExtract(ctx)
	require.NoError(t, err)

	// The second run refetches the same window; the upserts converge on the
	// existing rows instead of duplicating them.
	summary, err := h.pipeline.RunExtract(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.SlotsRequested)
	assert.Equal(t, 6, summary.ObjectsWritten)
	assert.Equal(t, 6, summary.RowsUpserted)

	var count int64
	require.NoError(t, h.db.Model(&load.Observation{}).Count(&count).Error)
	assert.Equal(t, int64(6), count)
}

func TestRunExtractRefreshesRecordedSlots(t *testing.T) {
	// The hourly pass always refetches the whole window, so corrected
	// provider values overwrite rows recorded by an earlier run.
	provider := &syntheticProvider{temp: 10.0}
	h := newHarness(t, provider, 10.0)
	ctx := context.Background()

	_, err := h.pipeline.RunExtract(ctx)
	require.NoError(t, err)

	provider.setTemp(20.0)
	summary, err := h.pipeline.RunExtract(ctx)
	require.NoError(t, err)
	assert.NoError(t, summary.Errors)
	assert.Equal(t, 6, summary.ObjectsWritten)
	assert.Equal(t, 6, summary.RowsUpserted)

	var temps []float64
	require.NoError(t, h.db.Model(&load.Observation{}).Pluck("temperature_2m", &temps).Error)
	require.Len(t, temps, 6)
	for _, v := range temps {
		assert.Equal(t, 20.0, v)
	}
}

func TestRunBackfillRepairsWiderWindow(t *testing.T) {
	h := newHarness(t, nil, 11.0)
	ctx := context.Background()

	_, err := h.pipeline.RunExtract(ctx)
	require.NoError(t, err)

	summary, err := h.pipeline.RunBackfill(ctx)
	require.NoError(t, err)

	// The backfill window is 12 hours; extract already covered the last 3,
	// leaving 9 per entity to repair.
	assert.Equal(t, 18, summary.SlotsRequested)
	assert.Equal(t, 18, summary.ObjectsLoaded)

	var count int64
	require.NoError(t, h.db.Model(&load.Observation{}).Count(&count).Error)
	assert.Equal(t, int64(24), count)
}

func TestRunExtractSurvivesProviderOutage(t *testing.T) {
	// The first request fails; the entity behind it stays missing while the
	// other entity completes.
	provider := &syntheticProvider{temp: 11.0, failures: 1}
	h := newHarness(t, provider, 11.0)

	summary, err := h.pipeline.RunExtract(context.Background())
	require.NoError(t, err)
	assert.Error(t, summary.Errors)
	assert.Equal(t, 3, summary.StillMissing)
	assert.Equal(t, 3, summary.ObjectsLoaded)
}

func TestRunLoadAllSweepsStore(t *testing.T) {
	h := newHarness(t, nil, 11.0)
	ctx := context.Background()

	_, err := h.pipeline.RunExtract(ctx)
	require.NoError(t, err)

	// Everything written by extract is already in the ledger.
	summary, err := h.pipeline.RunLoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ObjectsLoaded)
}

func TestRunExtractBlocksInvalidData(t *testing.T) {
	// Temperature far out of physical range: the gate must keep it out of
	// the warehouse while the raw objects remain in the store.
	h := newHarness(t, nil, 999.0)

	summary, err := h.pipeline.RunExtract(context.Background())
	require.NoError(t, err)
	assert.Error(t, summary.Errors)
	assert.Equal(t, 6, summary.ObjectsWritten)
	assert.Equal(t, 0, summary.ObjectsLoaded)

	var count int64
	require.NoError(t, h.db.Model(&load.Observation{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestRunExtractGateFailureBlocksAllEntities(t *testing.T) {
	// One entity out of range fails the gate for the whole run; the valid
	// entity's rows must not reach the warehouse either. The raw objects
	// stay in the store for a later backfill to retry.
	provider := &perLatitudeProvider{temps: map[float64]float64{
		52.23: 999.0, // warsaw
		52.52: 12.0,  // berlin
	}}
	h := newHarness(t, provider, 0)

	summary, err := h.pipeline.RunExtract(context.Background())
	require.NoError(t, err)
	assert.Error(t, summary.Errors)
	assert.Equal(t, 6, summary.ObjectsWritten)
	assert.Equal(t, 0, summary.ObjectsLoaded)
	assert.Equal(t, 0, summary.RowsUpserted)

	var count int64
	require.NoError(t, h.db.Model(&load.Observation{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
