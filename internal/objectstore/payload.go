// Package objectstore implements the partitioned raw-object layer: the JSON
// payload shape written for every slot, the deterministic key scheme and the
// append-only writer. Objects are immutable; re-ingesting a slot produces a
// new object under a new ingestion timestamp rather than overwriting.
package objectstore

// HourlyArrays holds the provider's parallel arrays. Measurement arrays may
// be shorter than the timestamp array and individual values may be null, so
// elements are pointers.
type HourlyArrays struct {
	Time          []string   `json:"time"`
	Temperature2M []*float64 `json:"temperature_2m"`
	Precipitation []*float64 `json:"precipitation"`
	WindSpeed10M  []*float64 `json:"wind_speed_10m"`
}

// Payload is the JSON document stored per partitioned object. Objects written
// by the re-partitioner carry single-element arrays; the loader nevertheless
// tolerates multi-slot payloads from older writers.
type Payload struct {
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Timezone  string       `json:"timezone"`
	Hourly    HourlyArrays `json:"hourly"`
}

// Slots returns the number of timestamps the payload carries.
func (p *Payload) Slots() int {
	return len(p.Hourly.Time)
}

// ValueAt returns the i-th element of a measurement array, or nil when the
// array is shorter than the timestamp array or the element itself is null.
func ValueAt(arr []*float64, i int) *float64 {
	if i < 0 || i >= len(arr) {
		return nil
	}
	return arr[i]
}

// SingleSlot builds a one-slot payload carrying the i-th element of every
// array in src. Missing trailing measurements become explicit nulls so a
// short provider array can never misalign values across slots.
func SingleSlot(src *Payload, i int) *Payload {
	return &Payload{
		Latitude:  src.Latitude,
		Longitude: src.Longitude,
		Timezone:  src.Timezone,
		Hourly: HourlyArrays{
			Time:          []string{src.Hourly.Time[i]},
			Temperature2M: []*float64{ValueAt(src.Hourly.Temperature2M, i)},
			Precipitation: []*float64{ValueAt(src.Hourly.Precipitation, i)},
			WindSpeed10M:  []*float64{ValueAt(src.Hourly.WindSpeed10M, i)},
		},
	}
}
