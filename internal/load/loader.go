// Package load moves raw objects from the object store into the warehouse.
// Loads are idempotent at two levels: a ledger keyed by object key skips
// already-loaded objects, and an upsert on (entity, slot_ts) makes row
// replays converge.
package load

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/objectstore"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/exception"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/timeslot"
)

const moduleName = "loader"

// Reader is the slice of the object store the loader depends on.
type Reader interface {
	Get(ctx context.Context, key string) (*objectstore.Payload, []byte, error)
	List(ctx context.Context, fn func(key string) error) error
	Bucket() string
	Prefix() string
}

// Stats summarizes one load pass.
type Stats struct {
	ObjectsLoaded  int
	ObjectsSkipped int
	RowsUpserted   int
	Errors         error
}

// Loader loads raw objects into the warehouse exactly once per object key.
type Loader struct {
	db     *gorm.DB
	reader Reader
	limit  int
	now    func() time.Time
}

// NewLoader creates a Loader. limit caps how many unloaded objects a single
// LoadAll sweep will process; zero means no cap.
func NewLoader(db *gorm.DB, reader Reader, limit int) *Loader {
	return &Loader{db: db, reader: reader, limit: limit, now: time.Now}
}

// LoadKeys loads the given object keys. An object that fails is recorded in
// Stats.Errors and skipped; the remaining keys are still processed.
func (l *Loader) LoadKeys(ctx context.Context, keys []string) Stats {
	stats := Stats{}
	for _, key := range keys {
		l.loadOne(ctx, key, &stats)
	}
	logger.Infof("Load pass finished: %d loaded, %d skipped, %d rows upserted.",
		stats.ObjectsLoaded, stats.ObjectsSkipped, stats.RowsUpserted)
	return stats
}

// LoadAll sweeps the store for objects not yet present in the ledger and
// loads them, up to the configured file limit.
func (l *Loader) LoadAll(ctx context.Context) (Stats, error) {
	stats := Stats{}
	var candidates []string

	err := l.reader.List(ctx, func(key string) error {
		loaded, err := l.alreadyLoaded(ctx, key)
		if err != nil {
			return err
		}
		if !loaded {
			candidates = append(candidates, key)
		}
		return nil
	})
	if err != nil {
		return stats, exception.NewETLError(moduleName, "failed to list store objects", err, true)
	}

	if l.limit > 0 && len(candidates) > l.limit {
		logger.Infof("Capping load sweep to %d of %d unloaded objects.", l.limit, len(candidates))
		candidates = candidates[:l.limit]
	}

	for _, key := range candidates {
		l.loadOne(ctx, key, &stats)
	}
	logger.Infof("Load sweep finished: %d loaded, %d skipped, %d rows upserted.",
		stats.ObjectsLoaded, stats.ObjectsSkipped, stats.RowsUpserted)
	return stats, nil
}

func (l *Loader) loadOne(ctx context.Context, key string, stats *Stats) {
	loaded, err := l.alreadyLoaded(ctx, key)
	if err != nil {
		stats.Errors = multierror.Append(stats.Errors, exception.NewETLError(moduleName, "ledger lookup failed for "+key, err, true))
		return
	}
	if loaded {
		logger.Debugf("Object '%s' already in ledger, skipping.", key)
		stats.ObjectsSkipped++
		return
	}

	info, err := objectstore.ParseKey(l.reader.Prefix(), key)
	if err != nil {
		stats.Errors = multierror.Append(stats.Errors, err)
		return
	}

	payload, raw, err := l.reader.Get(ctx, key)
	if err != nil {
		stats.Errors = multierror.Append(stats.Errors, err)
		return
	}

	rows := buildRows(info.Entity, payload, l.now())
	if len(rows) == 0 {
		stats.Errors = multierror.Append(stats.Errors,
			exception.NewETLErrorf(moduleName, "object '%s' contains no loadable rows", key))
		return
	}

	fingerprint := sha256.Sum256(raw)
	entry := IngestLedger{
		ObjectKey:    key,
		SourceBucket: l.reader.Bucket(),
		Fingerprint:  hex.EncodeToString(fingerprint[:]),
		RowsLoaded:   len(rows),
		LoadedAt:     l.now(),
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertRows(tx, rows); err != nil {
			return err
		}
		// Recorded only after the upsert commits with it, so a crash between
		// the two cannot leave the object marked loaded.
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "object_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"source_bucket", "fingerprint", "rows_loaded", "loaded_at"}),
		}).Create(&entry).Error
	})
	if err != nil {
		stats.Errors = multierror.Append(stats.Errors, exception.NewETLError(moduleName, "failed to load object "+key, err, true))
		return
	}

	stats.ObjectsLoaded++
	stats.RowsUpserted += len(rows)
	logger.Debugf("Loaded object '%s' (%d rows).", key, len(rows))
}

func (l *Loader) alreadyLoaded(ctx context.Context, key string) (bool, error) {
	var entry IngestLedger
	err := l.db.WithContext(ctx).Where("object_key = ?", key).First(&entry).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

// buildRows converts a payload into observation rows. All hourly arrays are
// truncated to the shortest common length so a ragged payload never produces
// rows with misaligned measurements.
func buildRows(entity string, payload *objectstore.Payload, ingestedAt time.Time) []Observation {
	n := payload.Slots()
	for _, length := range []int{
		len(payload.Hourly.Temperature2M),
		len(payload.Hourly.Precipitation),
		len(payload.Hourly.WindSpeed10M),
	} {
		if length < n {
			n = length
		}
	}

	rows := make([]Observation, 0, n)
	for i := 0; i < n; i++ {
		slot, err := timeslot.Parse(payload.Hourly.Time[i])
		if err != nil {
			logger.Warnf("Skipping row with unparseable timestamp '%s' for entity '%s'.", payload.Hourly.Time[i], entity)
			continue
		}
		rows = append(rows, Observation{
			Entity:        entity,
			SlotTs:        slot,
			Latitude:      payload.Latitude,
			Longitude:     payload.Longitude,
			Timezone:      payload.Timezone,
			Temperature2M: payload.Hourly.Temperature2M[i],
			Precipitation: payload.Hourly.Precipitation[i],
			WindSpeed10M:  payload.Hourly.WindSpeed10M[i],
			IngestedAt:    ingestedAt,
		})
	}
	return rows
}

// upsertRows writes rows with last-write-wins semantics on (entity, slot_ts).
func upsertRows(tx *gorm.DB, rows []Observation) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity"}, {Name: "slot_ts"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"latitude", "longitude", "timezone",
			"temperature_2m", "precipitation", "wind_speed_10m", "ingested_at",
		}),
	}).Create(&rows).Error
}
