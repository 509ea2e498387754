// Package gap computes the set of hourly slots missing from the warehouse
// for each configured entity over a time window.
package gap

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/config"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/exception"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/timeslot"
)

const moduleName = "gap_detector"

// Detector compares the expected hourly sequence of a window against the
// slots already recorded in the observation table.
type Detector struct {
	db       *gorm.DB
	entities []config.EntityConfig
}

// NewDetector creates a Detector over the given database handle and entity list.
func NewDetector(db *gorm.DB, entities []config.EntityConfig) *Detector {
	return &Detector{db: db, entities: entities}
}

// Detect returns, for every configured entity, the sorted list of hourly
// slots inside the window that have no recorded observation. Entities with
// no gaps are omitted from the map. Any database read failure fails the
// whole call; a partial gap map would silently shrink the backfill scope.
func (d *Detector) Detect(ctx context.Context, window timeslot.Window) (map[string][]time.Time, error) {
	expected := window.Sequence()
	gaps := make(map[string][]time.Time)

	for _, entity := range d.entities {
		recorded, err := d.recordedSlots(ctx, entity.Name, window)
		if err != nil {
			return nil, exception.NewETLError(moduleName, "failed to read recorded slots for "+entity.Name, err, true)
		}

		missing := make([]time.Time, 0)
		for _, slot := range expected {
			if _, ok := recorded[slot]; !ok {
				missing = append(missing, slot)
			}
		}
		if len(missing) > 0 {
			sort.Slice(missing, func(i, j int) bool { return missing[i].Before(missing[j]) })
			gaps[entity.Name] = missing
			logger.Infof("Entity '%s' is missing %d of %d slots in %s.", entity.Name, len(missing), len(expected), window)
		} else {
			logger.Debugf("Entity '%s' has no gaps in %s.", entity.Name, window)
		}
	}
	return gaps, nil
}

// recordedSlots returns the distinct slot timestamps already stored for one
// entity, normalized to UTC so they compare equal to the expected sequence.
func (d *Detector) recordedSlots(ctx context.Context, entity string, window timeslot.Window) (map[time.Time]struct{}, error) {
	var raw []time.Time
	err := d.db.WithContext(ctx).
		Table("weather_hourly").
		Where("entity = ? AND slot_ts >= ? AND slot_ts < ?", entity, window.Start, window.End).
		Distinct().
		Pluck("slot_ts", &raw).Error
	if err != nil {
		return nil, err
	}

	recorded := make(map[time.Time]struct{}, len(raw))
	for _, ts := range raw {
		recorded[timeslot.Align(ts)] = struct{}{}
	}
	return recorded, nil
}
