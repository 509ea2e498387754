package objectstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/timeslot"
)

// sourceName is the file-name stem identifying the upstream provider.
const sourceName = "openmeteo"

// ingestTimestampLayout formats the ingestion timestamp embedded in object
// keys. Nanosecond resolution guarantees distinct keys across repeated
// writes for the same slot.
const ingestTimestampLayout = "20060102T150405.000000000"

// BuildKey constructs the deterministic object key for one entity/slot pair:
//
//	prefix/entity/ds=YYYY-MM-DD/hour=HH/openmeteo_<ingest-ts>.json
//
// The ds/hour partition components come from the slot itself, never from the
// time of writing, so backfilled objects land in the partition of the hour
// they describe.
func BuildKey(prefix, entity string, slot, ingestedAt time.Time) string {
	slot = timeslot.Align(slot)
	return fmt.Sprintf("%s/%s/ds=%s/hour=%s/%s_%s.json",
		prefix,
		entity,
		slot.Format("2006-01-02"),
		slot.Format("15"),
		sourceName,
		ingestedAt.UTC().Format(ingestTimestampLayout),
	)
}

// KeyInfo is the identity information recoverable from an object key.
type KeyInfo struct {
	Entity string
	// Slot is the hour the object describes, reconstructed from the ds and
	// hour partition components.
	Slot time.Time
}

// ParseKey extracts the entity and slot from a key produced by BuildKey.
func ParseKey(prefix, key string) (KeyInfo, error) {
	rel := strings.TrimPrefix(key, prefix+"/")
	if rel == key {
		return KeyInfo{}, fmt.Errorf("object key %q does not start with prefix %q", key, prefix)
	}
	parts := strings.Split(rel, "/")
	if len(parts) != 4 {
		return KeyInfo{}, fmt.Errorf("object key %q does not match entity/ds=/hour=/name layout", key)
	}
	entity := parts[0]
	ds := strings.TrimPrefix(parts[1], "ds=")
	hour := strings.TrimPrefix(parts[2], "hour=")
	if entity == "" || ds == parts[1] || hour == parts[2] {
		return KeyInfo{}, fmt.Errorf("object key %q has malformed partition components", key)
	}
	slot, err := time.ParseInLocation("2006-01-02 15", ds+" "+hour, time.UTC)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("object key %q has unparseable partition timestamp: %w", key, err)
	}
	return KeyInfo{Entity: entity, Slot: slot}, nil
}
