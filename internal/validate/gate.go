// Package validate applies range and presence rules to fetched payloads
// before they are allowed into the warehouse.
package validate

import (
	"fmt"
	"strings"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/objectstore"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/exception"
)

const moduleName = "validation_gate"

// Physical bounds for hourly measurements. Values outside these ranges are
// sensor or provider faults, not weather.
const (
	minTemperature = -90.0
	maxTemperature = 60.0
	minPrecip      = 0.0
	maxPrecip      = 500.0
	minWindSpeed   = 0.0
	maxWindSpeed   = 200.0
)

// Violation records one failed rule over one payload field.
type Violation struct {
	Field string
	Rule  string
	Count int
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%d values)", v.Field, v.Rule, v.Count)
}

// Report collects the violations found in a set of payloads.
type Report struct {
	Checked    int
	Violations []Violation
}

// Passed reports whether the gate found no violations.
func (r *Report) Passed() bool {
	return len(r.Violations) == 0
}

// Err returns a gate error when the report carries violations, nil otherwise.
func (r *Report) Err() error {
	if r.Passed() {
		return nil
	}
	parts := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		parts[i] = v.String()
	}
	return exception.NewETLErrorf(moduleName, "validation gate failed: %s", strings.Join(parts, "; "))
}

// Gate validates payloads against the fixed measurement rules.
type Gate struct{}

// NewGate creates a Gate.
func NewGate() *Gate {
	return &Gate{}
}

// Check validates a batch of payloads and returns the aggregate report.
// Null measurement values are permitted; null timestamps and missing
// metadata are not.
func (g *Gate) Check(payloads []*objectstore.Payload) *Report {
	report := &Report{}
	counts := make(map[string]map[string]int)

	record := func(field, rule string) {
		if counts[field] == nil {
			counts[field] = make(map[string]int)
		}
		counts[field][rule]++
	}

	for _, p := range payloads {
		report.Checked++
		if p.Timezone == "" {
			record("timezone", "must not be null")
		}
		if p.Latitude < -90 || p.Latitude > 90 {
			record("latitude", "must be between -90 and 90")
		}
		if p.Longitude < -180 || p.Longitude > 180 {
			record("longitude", "must be between -180 and 180")
		}
		for i := 0; i < p.Slots(); i++ {
			if p.Hourly.Time[i] == "" {
				record("time", "must not be null")
			}
			checkRange(record, "temperature_2m", objectstore.ValueAt(p.Hourly.Temperature2M, i), minTemperature, maxTemperature)
			checkRange(record, "precipitation", objectstore.ValueAt(p.Hourly.Precipitation, i), minPrecip, maxPrecip)
			checkRange(record, "wind_speed_10m", objectstore.ValueAt(p.Hourly.WindSpeed10M, i), minWindSpeed, maxWindSpeed)
		}
	}

	for field, rules := range counts {
		for rule, n := range rules {
			report.Violations = append(report.Violations, Violation{Field: field, Rule: rule, Count: n})
		}
	}
	return report
}

func checkRange(record func(field, rule string), field string, value *float64, min, max float64) {
	if value == nil {
		return
	}
	if *value < min || *value > max {
		record(field, fmt.Sprintf("must be between %g and %g", min, max))
	}
}
