package fetch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/config"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/fetch"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/objectstore"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/timeslot"
)

func f64(v float64) *float64 { return &v }

var warsaw = config.EntityConfig{Name: "warsaw", Latitude: 52.23, Longitude: 21.01}

// fakeProvider replays canned payloads per request and records the windows
// it was asked for.
type fakeProvider struct {
	windows  []timeslot.Window
	payloads []*objectstore.Payload
	errs     []error
	calls    int
}

func (p *fakeProvider) FetchHourly(ctx context.Context, lat, lon float64, window timeslot.Window) (*objectstore.Payload, error) {
	p.windows = append(p.windows, window)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.payloads) {
		return p.payloads[i], nil
	}
	return payloadForWindow(window), nil
}

// payloadForWindow synthesizes a full-coverage payload for a window.
func payloadForWindow(window timeslot.Window) *objectstore.Payload {
	payload := &objectstore.Payload{Latitude: 52.23, Longitude: 21.01, Timezone: "UTC"}
	for _, slot := range window.Sequence() {
		payload.Hourly.Time = append(payload.Hourly.Time, slot.Format("2006-01-02T15:04"))
		payload.Hourly.Temperature2M = append(payload.Hourly.Temperature2M, f64(10.0))
		payload.Hourly.Precipitation = append(payload.Hourly.Precipitation, f64(0.0))
		payload.Hourly.WindSpeed10M = append(payload.Hourly.WindSpeed10M, f64(5.0))
	}
	return payload
}

// captureWriter records written slots instead of touching real storage.
type captureWriter struct {
	written []*objectstore.Payload
	slots   []time.Time
	failOn  map[time.Time]bool
}

func (w *captureWriter) Put(ctx context.Context, entity string, slot time.Time, payload *objectstore.Payload) (string, error) {
	if w.failOn[slot] {
		return "", errors.New("disk full")
	}
	w.written = append(w.written, payload)
	w.slots = append(w.slots, slot)
	return fmt.Sprintf("weather/%s/ds=%s/hour=%s/openmeteo_test.json",
		entity, slot.Format("2006-01-02"), slot.Format("15")), nil
}

func hoursFrom(start time.Time, offsets ...int) []time.Time {
	slots := make([]time.Time, len(offsets))
	for i, off := range offsets {
		slots[i] = start.Add(time.Duration(off) * time.Hour)
	}
	return slots
}

func TestSplitBatchesRespectsSizeBound(t *testing.T) {
	start := time.Date(2025, 10, 28, 0, 0, 0, 0, time.UTC)
	slots := make([]time.Time, 50)
	for i := range slots {
		slots[i] = start.Add(time.Duration(i) * time.Hour)
	}

	batches := fetch.SplitBatches(slots, 24)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 24)
	assert.Len(t, batches[1], 24)
	assert.Len(t, batches[2], 2)
}

func TestSplitBatchesBreaksAtGaps(t *testing.T) {
	start := time.Date(2025, 10, 28, 0, 0, 0, 0, time.UTC)
	slots := hoursFrom(start, 0, 1, 2, 5, 6, 10)

	batches := fetch.SplitBatches(slots, 24)
	require.Len(t, batches, 3)
	assert.Equal(t, hoursFrom(start, 0, 1, 2), batches[0])
	assert.Equal(t, hoursFrom(start, 5, 6), batches[1])
	assert.Equal(t, hoursFrom(start, 10), batches[2])
}

func TestSplitBatchesEmpty(t *testing.T) {
	assert.Empty(t, fetch.SplitBatches(nil, 24))
}

func TestFetchMissingWritesOnlyRequestedSlots(t *testing.T) {
	start := time.Date(2025, 10, 30, 8, 0, 0, 0, time.UTC)
	// Provider answers by calendar date, so it returns six hours even though
	// only two are missing.
	response := payloadForWindow(timeslot.Window{Start: start, End: start.Add(6 * time.Hour)})
	provider := &fakeProvider{payloads: []*objectstore.Payload{response}}
	writer := &captureWriter{}

	fetcher := fetch.NewFetcher(provider, writer, 24)
	missing := hoursFrom(start, 1, 2)
	result := fetcher.FetchMissing(context.Background(), warsaw, missing)

	require.NoError(t, result.Errors)
	assert.Empty(t, result.StillMissing)
	require.Len(t, result.Written, 2)
	assert.Equal(t, missing, writer.slots)
	for _, payload := range writer.written {
		assert.Equal(t, 1, payload.Slots())
	}
}

func TestFetchMissingRequestWindowSpansBatch(t *testing.T) {
	start := time.Date(2025, 10, 30, 8, 0, 0, 0, time.UTC)
	provider := &fakeProvider{}
	writer := &captureWriter{}

	fetcher := fetch.NewFetcher(provider, writer, 24)
	fetcher.FetchMissing(context.Background(), warsaw, hoursFrom(start, 0, 1, 2))

	require.Len(t, provider.windows, 1)
	assert.Equal(t, start, provider.windows[0].Start)
	assert.Equal(t, start.Add(3*time.Hour), provider.windows[0].End)
}

func TestFetchMissingBatchFailureIsolated(t *testing.T) {
	start := time.Date(2025, 10, 28, 0, 0, 0, 0, time.UTC)
	// Two disjoint runs: the first batch fails, the second succeeds.
	missing := hoursFrom(start, 0, 1, 5, 6)
	provider := &fakeProvider{errs: []error{errors.New("rate limited"), nil}}
	writer := &captureWriter{}

	fetcher := fetch.NewFetcher(provider, writer, 24)
	result := fetcher.FetchMissing(context.Background(), warsaw, missing)

	require.Error(t, result.Errors)
	assert.Equal(t, hoursFrom(start, 0, 1), result.StillMissing)
	require.Len(t, result.Written, 2)
	assert.Equal(t, hoursFrom(start, 5, 6), writer.slots)
}

func TestFetchMissingPartialProviderCoverage(t *testing.T) {
	start := time.Date(2025, 10, 30, 8, 0, 0, 0, time.UTC)
	// Provider only covers the first of three requested hours.
	response := payloadForWindow(timeslot.Window{Start: start, End: start.Add(time.Hour)})
	provider := &fakeProvider{payloads: []*objectstore.Payload{response}}
	writer := &captureWriter{}

	fetcher := fetch.NewFetcher(provider, writer, 24)
	result := fetcher.FetchMissing(context.Background(), warsaw, hoursFrom(start, 0, 1, 2))

	require.NoError(t, result.Errors)
	require.Len(t, result.Written, 1)
	assert.Equal(t, hoursFrom(start, 1, 2), result.StillMissing)
}

func TestFetchMissingWriteFailureLeavesSlotMissing(t *testing.T) {
	start := time.Date(2025, 10, 30, 8, 0, 0, 0, time.UTC)
	provider := &fakeProvider{}
	writer := &captureWriter{failOn: map[time.Time]bool{start.Add(time.Hour): true}}

	fetcher := fetch.NewFetcher(provider, writer, 24)
	result := fetcher.FetchMissing(context.Background(), warsaw, hoursFrom(start, 0, 1, 2))

	require.Error(t, result.Errors)
	require.Len(t, result.Written, 2)
	assert.Equal(t, hoursFrom(start, 1), result.StillMissing)
	// All three slots came back from the provider even though one write
	// failed, so the recovered count exceeds the written count.
	assert.Equal(t, 3, result.SlotsRecovered)
}

func TestFetchMissingPreservesNullMeasurements(t *testing.T) {
	start := time.Date(2025, 10, 30, 8, 0, 0, 0, time.UTC)
	response := &objectstore.Payload{
		Latitude: 52.23, Longitude: 21.01, Timezone: "UTC",
		Hourly: objectstore.HourlyArrays{
			Time:          []string{"2025-10-30T08:00", "2025-10-30T09:00"},
			Temperature2M: []*float64{f64(10.0), f64(11.0)},
			// Short arrays: the second hour has no precipitation or wind.
			Precipitation: []*float64{f64(0.2)},
			WindSpeed10M:  nil,
		},
	}
	provider := &fakeProvider{payloads: []*objectstore.Payload{response}}
	writer := &captureWriter{}

	fetcher := fetch.NewFetcher(provider, writer, 24)
	result := fetcher.FetchMissing(context.Background(), warsaw, hoursFrom(start, 0, 1))

	require.NoError(t, result.Errors)
	require.Len(t, writer.written, 2)
	second := writer.written[1]
	require.NotNil(t, second.Hourly.Temperature2M[0])
	assert.Equal(t, 11.0, *second.Hourly.Temperature2M[0])
	assert.Nil(t, second.Hourly.Precipitation[0])
	assert.Nil(t, second.Hourly.WindSpeed10M[0])
}
