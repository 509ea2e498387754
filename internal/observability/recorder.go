// Package observability provides the Prometheus metrics recorder and the
// OpenTelemetry tracer for the pipeline.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

// Recorder is a Prometheus-backed recorder for pipeline metrics.
type Recorder struct {
	registry *prometheus.Registry

	runDurationSeconds   *prometheus.HistogramVec
	stageDurationSeconds *prometheus.HistogramVec
	runStatusCounter     *prometheus.CounterVec

	slotsMissing   *prometheus.GaugeVec
	slotsFetched   *prometheus.CounterVec
	objectsWritten *prometheus.CounterVec
	objectsLoaded  *prometheus.CounterVec
	objectsSkipped *prometheus.CounterVec
	rowsUpserted   *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_run_duration_seconds",
			Help:    "Duration of pipeline runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode", "status"}),
		stageDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode", "stage"}),
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_run_status_total",
			Help: "Total number of pipeline runs by status.",
		}, []string{"mode", "status"}),
		slotsMissing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_slots_missing",
			Help: "Missing hourly slots detected in the last run, per entity.",
		}, []string{"entity"}),
		slotsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_slots_fetched_total",
			Help: "Hourly slots recovered from the provider, per entity.",
		}, []string{"entity"}),
		objectsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_objects_written_total",
			Help: "Single-hour objects written to the store, per entity.",
		}, []string{"entity"}),
		objectsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_objects_loaded_total",
			Help: "Objects loaded into the warehouse.",
		}, []string{"mode"}),
		objectsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_objects_skipped_total",
			Help: "Objects skipped because they were already in the ledger.",
		}, []string{"mode"}),
		rowsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_rows_upserted_total",
			Help: "Observation rows upserted into the warehouse.",
		}, []string{"mode"}),
	}

	registry.MustRegister(r.runDurationSeconds)
	registry.MustRegister(r.stageDurationSeconds)
	registry.MustRegister(r.runStatusCounter)
	registry.MustRegister(r.slotsMissing)
	registry.MustRegister(r.slotsFetched)
	registry.MustRegister(r.objectsWritten)
	registry.MustRegister(r.objectsLoaded)
	registry.MustRegister(r.objectsSkipped)
	registry.MustRegister(r.rowsUpserted)
	return r
}

// Registry returns the Prometheus registry backing this recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordRun records the outcome and duration of one pipeline run.
func (r *Recorder) RecordRun(mode, status string, duration time.Duration) {
	r.runStatusCounter.WithLabelValues(mode, status).Inc()
	r.runDurationSeconds.WithLabelValues(mode, status).Observe(duration.Seconds())
}

// RecordStage records the duration of one pipeline stage.
func (r *Recorder) RecordStage(mode, stage string, duration time.Duration) {
	r.stageDurationSeconds.WithLabelValues(mode, stage).Observe(duration.Seconds())
}

// RecordGaps records the missing slot count detected for an entity.
func (r *Recorder) RecordGaps(entity string, missing int) {
	r.slotsMissing.WithLabelValues(entity).Set(float64(missing))
}

// RecordFetch records slots recovered and objects written for an entity.
func (r *Recorder) RecordFetch(entity string, fetched, written int) {
	r.slotsFetched.WithLabelValues(entity).Add(float64(fetched))
	r.objectsWritten.WithLabelValues(entity).Add(float64(written))
}

// RecordLoad records the result of one load pass.
func (r *Recorder) RecordLoad(mode string, loaded, skipped, rows int) {
	r.objectsLoaded.WithLabelValues(mode).Add(float64(loaded))
	r.objectsSkipped.WithLabelValues(mode).Add(float64(skipped))
	r.rowsUpserted.WithLabelValues(mode).Add(float64(rows))
}

// Serve starts an HTTP listener exposing /metrics until the context is
// canceled. It returns immediately; listener errors are logged.
func (r *Recorder) Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Infof("Metrics listener started on %s.", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics listener failed: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
