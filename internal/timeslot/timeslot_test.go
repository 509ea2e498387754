package timeslot_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/timeslot"
)

func TestAlign(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	in := time.Date(2025, 10, 30, 14, 37, 12, 999, warsaw)
	got := timeslot.Align(in)

	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 0, got.Minute())
	assert.Equal(t, 0, got.Second())
	assert.True(t, timeslot.IsAligned(got))
	// 14:37 CET is 13:37 UTC, so the containing hour is 13:00 UTC.
	assert.Equal(t, time.Date(2025, 10, 30, 13, 0, 0, 0, time.UTC), got)
}

func TestIsAligned(t *testing.T) {
	aligned := time.Date(2025, 1, 1, 5, 0, 0, 0, time.UTC)
	assert.True(t, timeslot.IsAligned(aligned))
	assert.False(t, timeslot.IsAligned(aligned.Add(time.Minute)))
	// An hour boundary in a non-UTC location is not an aligned slot.
	assert.False(t, timeslot.IsAligned(aligned.In(time.FixedZone("X", 3600))))
}

func TestParseNaiveProviderTimestamp(t *testing.T) {
	got, err := timeslot.Parse("2025-10-30T14:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 10, 30, 14, 0, 0, 0, time.UTC), got)
}

func TestParseRFC3339(t *testing.T) {
	got, err := timeslot.Parse("2025-10-30T14:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 10, 30, 12, 0, 0, 0, time.UTC), got)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := timeslot.Parse("not-a-timestamp")
	assert.Error(t, err)
}

func TestNewWindowValidation(t *testing.T) {
	start := time.Date(2025, 10, 30, 10, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Hour)

	w, err := timeslot.NewWindow(start, end)
	require.NoError(t, err)
	assert.Equal(t, 6, w.Hours())

	_, err = timeslot.NewWindow(start.Add(time.Minute), end)
	assert.Error(t, err)

	_, err = timeslot.NewWindow(end, start)
	assert.Error(t, err)

	_, err = timeslot.NewWindow(start, start)
	assert.Error(t, err)
}

func TestTrailingWindow(t *testing.T) {
	now := time.Date(2025, 10, 30, 14, 37, 0, 0, time.UTC)
	w := timeslot.TrailingWindow(now, 6*time.Hour)

	assert.Equal(t, time.Date(2025, 10, 30, 8, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 10, 30, 14, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, 6, w.Hours())
}

func TestWindowContains(t *testing.T) {
	w := timeslot.Window{
		Start: time.Date(2025, 10, 30, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 10, 30, 14, 0, 0, 0, time.UTC),
	}
	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.End.Add(-time.Hour)))
	assert.False(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.Start.Add(-time.Hour)))
}

func TestWindowSequence(t *testing.T) {
	w := timeslot.Window{
		Start: time.Date(2025, 10, 30, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 10, 30, 11, 0, 0, 0, time.UTC),
	}
	seq := w.Sequence()
	require.Len(t, seq, 3)
	assert.Equal(t, w.Start, seq[0])
	assert.Equal(t, w.Start.Add(time.Hour), seq[1])
	assert.Equal(t, w.Start.Add(2*time.Hour), seq[2])
}
