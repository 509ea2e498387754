// Package pipeline orchestrates the gap-detect, fetch, validate, and load
// stages into the extract and backfill runs.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/config"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/fetch"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/gap"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/load"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/objectstore"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/observability"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/timeslot"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/validate"
)

// Summary reports the outcome of one pipeline run. SlotsRequested counts the
// slots handed to the fetch stage: the full trailing window for extract, the
// detected gaps for backfill.
type Summary struct {
	RunID          string
	Mode           string
	SlotsRequested int
	ObjectsWritten int
	ObjectsLoaded  int
	ObjectsSkipped int
	RowsUpserted   int
	StillMissing   int
	Errors         error
}

// Pipeline wires the stages together and runs them per entity under a
// bounded worker pool.
type Pipeline struct {
	cfg      config.PipelineConfig
	entities []config.EntityConfig
	detector *gap.Detector
	fetcher  *fetch.Fetcher
	gate     *validate.Gate
	loader   *load.Loader
	store    *objectstore.Store
	recorder *observability.Recorder
	tracer   *observability.Tracer
	now      func() time.Time
}

// NewPipeline creates a Pipeline from its stage components.
func NewPipeline(
	cfg config.PipelineConfig,
	entities []config.EntityConfig,
	detector *gap.Detector,
	fetcher *fetch.Fetcher,
	gate *validate.Gate,
	loader *load.Loader,
	store *objectstore.Store,
	recorder *observability.Recorder,
	tracer *observability.Tracer,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		entities: entities,
		detector: detector,
		fetcher:  fetcher,
		gate:     gate,
		loader:   loader,
		store:    store,
		recorder: recorder,
		tracer:   tracer,
		now:      time.Now,
	}
}

// RunExtract runs the regular hourly pass. It refetches the whole trailing
// window without consulting the gap detector, so provider corrections for
// already-recorded hours reach the warehouse through the upsert.
func (p *Pipeline) RunExtract(ctx context.Context) (Summary, error) {
	window := timeslot.TrailingWindow(p.now(), time.Duration(p.cfg.LookbackHours)*time.Hour)
	return p.run(ctx, "extract", window)
}

// RunBackfill runs the wide reconciliation pass over the backfill window.
func (p *Pipeline) RunBackfill(ctx context.Context) (Summary, error) {
	window := timeslot.TrailingWindow(p.now(), time.Duration(p.cfg.BackfillLookbackHours)*time.Hour)
	return p.run(ctx, "backfill", window)
}

func (p *Pipeline) run(ctx context.Context, mode string, window timeslot.Window) (Summary, error) {
	runID := uuid.NewString()
	started := p.now()
	summary := Summary{RunID: runID, Mode: mode}

	ctx, span := p.tracer.Start(ctx, "pipeline."+mode)
	defer span.End()

	logger.Infof("Run %s (%s) started for window %s.", runID, mode, window)

	targets, err := p.slotsToFetch(ctx, mode, window, &summary)
	if err != nil {
		p.recorder.RecordRun(mode, "failed", p.now().Sub(started))
		return summary, err
	}

	written := p.fetchAndValidate(ctx, mode, targets, &summary)

	loadStart := p.now()
	stats := p.loader.LoadKeys(ctx, written)
	p.recorder.RecordStage(mode, "load", p.now().Sub(loadStart))
	p.recorder.RecordLoad(mode, stats.ObjectsLoaded, stats.ObjectsSkipped, stats.RowsUpserted)

	summary.ObjectsLoaded = stats.ObjectsLoaded
	summary.ObjectsSkipped = stats.ObjectsSkipped
	summary.RowsUpserted = stats.RowsUpserted
	if stats.Errors != nil {
		summary.Errors = multierror.Append(summary.Errors, stats.Errors)
	}

	status := "completed"
	if summary.Errors != nil {
		status = "completed_with_errors"
	}
	p.recorder.RecordRun(mode, status, p.now().Sub(started))
	logger.Infof("Run %s (%s) %s: %d requested, %d written, %d loaded, %d skipped, %d rows, %d still missing.",
		runID, mode, status, summary.SlotsRequested, summary.ObjectsWritten,
		summary.ObjectsLoaded, summary.ObjectsSkipped, summary.RowsUpserted, summary.StillMissing)
	return summary, nil
}

// slotsToFetch decides what the fetch stage asks the provider for. Extract
// targets every slot in the window for every entity and never queries the
// warehouse; backfill runs gap detection and targets only the missing slots.
func (p *Pipeline) slotsToFetch(ctx context.Context, mode string, window timeslot.Window, summary *Summary) (map[string][]time.Time, error) {
	if mode == "extract" {
		slots := window.Sequence()
		targets := make(map[string][]time.Time, len(p.entities))
		for _, entity := range p.entities {
			targets[entity.Name] = slots
			summary.SlotsRequested += len(slots)
		}
		return targets, nil
	}

	detectStart := p.now()
	gaps, err := p.detector.Detect(ctx, window)
	p.recorder.RecordStage(mode, "detect", p.now().Sub(detectStart))
	if err != nil {
		summary.Errors = multierror.Append(summary.Errors, err)
		return nil, err
	}
	for _, entity := range p.entities {
		p.recorder.RecordGaps(entity.Name, len(gaps[entity.Name]))
		summary.SlotsRequested += len(gaps[entity.Name])
	}
	if len(gaps) == 0 {
		logger.Infof("No gaps detected in %s; nothing to fetch.", window)
	}
	return gaps, nil
}

// fetchAndValidate fetches per entity under the worker pool, then runs the
// validation gate once over everything the run wrote. A failed gate withholds
// the entire run from the load stage; the objects stay in the store and the
// gaps remain for a later backfill. Slot order is preserved inside each
// entity; entities proceed independently so one slow provider span cannot
// starve the rest.
func (p *Pipeline) fetchAndValidate(ctx context.Context, mode string, targets map[string][]time.Time, summary *Summary) []string {
	if len(targets) == 0 {
		return nil
	}

	fetchStart := p.now()
	type entityResult struct {
		entity string
		result fetch.Result
	}
	results := make([]entityResult, 0, len(p.entities))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	resultCh := make(chan entityResult, len(p.entities))

	for _, entity := range p.entities {
		slots := targets[entity.Name]
		if len(slots) == 0 {
			continue
		}
		entity := entity
		g.Go(func() error {
			resultCh <- entityResult{entity: entity.Name, result: p.fetcher.FetchMissing(groupCtx, entity, slots)}
			return nil
		})
	}
	// Workers never return errors; per-entity failures ride in Result.
	_ = g.Wait()
	close(resultCh)
	for r := range resultCh {
		results = append(results, r)
	}
	p.recorder.RecordStage(mode, "fetch", p.now().Sub(fetchStart))

	var refs []fetch.ObjectRef
	for _, r := range results {
		p.recorder.RecordFetch(r.entity, r.result.SlotsRecovered, len(r.result.Written))
		summary.ObjectsWritten += len(r.result.Written)
		summary.StillMissing += len(r.result.StillMissing)
		if r.result.Errors != nil {
			summary.Errors = multierror.Append(summary.Errors, r.result.Errors)
		}
		refs = append(refs, r.result.Written...)
	}

	validateStart := p.now()
	valid := p.validateWritten(ctx, refs)
	p.recorder.RecordStage(mode, "validate", p.now().Sub(validateStart))
	if valid != nil {
		logger.Errorf("Validation gate rejected the run's objects; load stage skipped: %v", valid)
		summary.Errors = multierror.Append(summary.Errors, valid)
		return nil
	}

	written := make([]string, 0, len(refs))
	for _, ref := range refs {
		written = append(written, ref.Key)
	}
	sort.Strings(written)
	return written
}

// validateWritten re-reads the freshly written objects and runs the gate
// over them before they are handed to the loader.
func (p *Pipeline) validateWritten(ctx context.Context, refs []fetch.ObjectRef) error {
	if len(refs) == 0 {
		return nil
	}
	payloads := make([]*objectstore.Payload, 0, len(refs))
	for _, ref := range refs {
		payload, _, err := p.store.Get(ctx, ref.Key)
		if err != nil {
			return err
		}
		payloads = append(payloads, payload)
	}
	return p.gate.Check(payloads).Err()
}

// RunLoadAll sweeps the store for unloaded objects and loads them.
func (p *Pipeline) RunLoadAll(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()
	started := p.now()
	summary := Summary{RunID: runID, Mode: "load"}

	ctx, span := p.tracer.Start(ctx, "pipeline.load")
	defer span.End()

	stats, err := p.loader.LoadAll(ctx)
	summary.ObjectsLoaded = stats.ObjectsLoaded
	summary.ObjectsSkipped = stats.ObjectsSkipped
	summary.RowsUpserted = stats.RowsUpserted
	summary.Errors = stats.Errors
	if err != nil {
		p.recorder.RecordRun("load", "failed", p.now().Sub(started))
		return summary, err
	}
	p.recorder.RecordLoad("load", stats.ObjectsLoaded, stats.ObjectsSkipped, stats.RowsUpserted)
	p.recorder.RecordRun("load", "completed", p.now().Sub(started))
	logger.Infof("Run %s (load) completed: %d loaded, %d skipped, %d rows.",
		runID, summary.ObjectsLoaded, summary.ObjectsSkipped, summary.RowsUpserted)
	return summary, nil
}
