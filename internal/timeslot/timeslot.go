// Package timeslot defines the hour-aligned UTC instants the pipeline operates
// on. A slot is the atomic unit of gap detection, fetching, storage and
// loading; every comparison across components happens on slots produced here
// so that timezone-naive provider timestamps can never alias a stored hour.
package timeslot

import (
	"fmt"
	"time"
)

// providerLayout is the timezone-naive timestamp format returned by the
// Open-Meteo hourly APIs (e.g. "2025-10-30T14:00"). Naive timestamps are
// interpreted as UTC because every provider request pins timezone=UTC.
const providerLayout = "2006-01-02T15:04"

// Align truncates t to the containing hour and normalizes it to UTC.
func Align(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// IsAligned reports whether t is already an hour-aligned UTC instant.
func IsAligned(t time.Time) bool {
	return t.Equal(Align(t)) && t.Location() == time.UTC
}

// Parse converts a provider timestamp string into an hour-aligned UTC slot.
// Both RFC 3339 timestamps and the provider's naive "2006-01-02T15:04" form
// are accepted; naive values are taken as UTC.
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Align(t), nil
	}
	t, err := time.ParseInLocation(providerLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable provider timestamp %q: %w", s, err)
	}
	return Align(t), nil
}

// Window is a half-open interval [Start, End) of hour-aligned UTC slots.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a Window, validating that both bounds are hour-aligned
// UTC instants and that Start precedes End.
func NewWindow(start, end time.Time) (Window, error) {
	start, end = start.UTC(), end.UTC()
	if !IsAligned(start) {
		return Window{}, fmt.Errorf("window start %s is not hour-aligned", start)
	}
	if !IsAligned(end) {
		return Window{}, fmt.Errorf("window end %s is not hour-aligned", end)
	}
	if !start.Before(end) {
		return Window{}, fmt.Errorf("window start %s is not before end %s", start, end)
	}
	return Window{Start: start, End: end}, nil
}

// TrailingWindow returns the window covering the last d duration up to now,
// with both bounds aligned to hour boundaries.
func TrailingWindow(now time.Time, d time.Duration) Window {
	end := Align(now)
	return Window{Start: end.Add(-d.Truncate(time.Hour)), End: end}
}

// Contains reports whether the slot t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Hours returns the number of slots the window spans.
func (w Window) Hours() int {
	return int(w.End.Sub(w.Start) / time.Hour)
}

// Sequence expands the window into the full expected slot sequence, stepping
// one hour at a time from Start up to but excluding End.
func (w Window) Sequence() []time.Time {
	slots := make([]time.Time, 0, w.Hours())
	for cur := w.Start; cur.Before(w.End); cur = cur.Add(time.Hour) {
		slots = append(slots, cur)
	}
	return slots
}

// String renders the window for logs.
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
