// Package fetch turns per-entity slot gaps into provider requests and
// re-partitions the multi-hour responses into one object per hour.
package fetch

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/config"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/objectstore"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/exception"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/timeslot"
)

const moduleName = "fetcher"

// Provider is the slice of the Open-Meteo client the fetcher depends on.
type Provider interface {
	FetchHourly(ctx context.Context, latitude, longitude float64, window timeslot.Window) (*objectstore.Payload, error)
}

// Writer is the slice of the object store the fetcher depends on.
type Writer interface {
	Put(ctx context.Context, entity string, slot time.Time, payload *objectstore.Payload) (string, error)
}

// ObjectRef identifies one single-hour object written to the store.
type ObjectRef struct {
	Entity string
	Slot   time.Time
	Key    string
}

// Result summarizes one fetch pass for one entity. SlotsRecovered counts the
// requested slots the provider answered; it exceeds len(Written) when some
// recovered slots fail to write.
type Result struct {
	SlotsRecovered int
	Written        []ObjectRef
	StillMissing   []time.Time
	Errors         error
}

// Fetcher batches missing slots, queries the provider, and writes one
// object per recovered hour.
type Fetcher struct {
	provider  Provider
	writer    Writer
	batchSize int
}

// NewFetcher creates a Fetcher. batchSize caps the number of slots covered
// by a single provider request.
func NewFetcher(provider Provider, writer Writer, batchSize int) *Fetcher {
	if batchSize <= 0 {
		batchSize = 24
	}
	return &Fetcher{provider: provider, writer: writer, batchSize: batchSize}
}

// FetchMissing fetches the given missing slots for one entity. Slots must be
// hour-aligned and ascending, as produced by the gap detector. A failed
// batch leaves its slots in StillMissing and carries its error in Errors
// without aborting the remaining batches.
func (f *Fetcher) FetchMissing(ctx context.Context, entity config.EntityConfig, missing []time.Time) Result {
	result := Result{}
	requested := make(map[time.Time]struct{}, len(missing))
	for _, slot := range missing {
		requested[slot] = struct{}{}
	}

	for _, batch := range SplitBatches(missing, f.batchSize) {
		window := timeslot.Window{Start: batch[0], End: batch[len(batch)-1].Add(time.Hour)}

		payload, err := f.provider.FetchHourly(ctx, entity.Latitude, entity.Longitude, window)
		if err != nil {
			logger.Warnf("Batch fetch failed for entity '%s' window %s: %v", entity.Name, window, err)
			result.StillMissing = append(result.StillMissing, batch...)
			result.Errors = multierror.Append(result.Errors, err)
			continue
		}

		written, recovered, batchErr := f.writeSlots(ctx, entity.Name, payload, requested)
		result.SlotsRecovered += recovered
		result.Written = append(result.Written, written...)
		if batchErr != nil {
			result.Errors = multierror.Append(result.Errors, batchErr)
		}

		covered := make(map[time.Time]struct{}, len(written))
		for _, ref := range written {
			covered[ref.Slot] = struct{}{}
		}
		for _, slot := range batch {
			if _, ok := covered[slot]; !ok {
				result.StillMissing = append(result.StillMissing, slot)
			}
		}
	}

	logger.Infof("Entity '%s': wrote %d objects, %d slots still missing.",
		entity.Name, len(result.Written), len(result.StillMissing))
	return result
}

// writeSlots re-partitions a provider payload into single-hour objects,
// writing only the slots that were actually requested. The provider answers
// by calendar date, so a response usually carries hours outside the gap
// list; those are discarded here rather than stored.
func (f *Fetcher) writeSlots(ctx context.Context, entity string, payload *objectstore.Payload, requested map[time.Time]struct{}) ([]ObjectRef, int, error) {
	var refs []ObjectRef
	var recovered int
	var errs error

	for i := 0; i < payload.Slots(); i++ {
		slot, err := timeslot.Parse(payload.Hourly.Time[i])
		if err != nil {
			errs = multierror.Append(errs, exception.NewETLError(moduleName,
				"provider returned unparseable slot timestamp "+payload.Hourly.Time[i], err, false))
			continue
		}
		if _, ok := requested[slot]; !ok {
			continue
		}
		recovered++

		single := objectstore.SingleSlot(payload, i)
		key, err := f.writer.Put(ctx, entity, slot, single)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		refs = append(refs, ObjectRef{Entity: entity, Slot: slot, Key: key})
	}
	return refs, recovered, errs
}

// SplitBatches groups hour-aligned ascending slots into runs of at most
// size elements, breaking additionally at every gap in the sequence so each
// batch maps onto one contiguous request window.
func SplitBatches(slots []time.Time, size int) [][]time.Time {
	var batches [][]time.Time
	var current []time.Time

	for _, slot := range slots {
		if len(current) > 0 {
			contiguous := slot.Equal(current[len(current)-1].Add(time.Hour))
			if !contiguous || len(current) >= size {
				batches = append(batches, current)
				current = nil
			}
		}
		current = append(current, slot)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
