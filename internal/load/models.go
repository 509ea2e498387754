package load

import "time"

// Observation is one hourly measurement row for one entity. The unique
// index on (entity, slot_ts) is what makes replayed loads converge instead
// of duplicating rows.
type Observation struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Entity        string    `gorm:"size:128;not null;uniqueIndex:uq_weather_hourly_entity_slot"`
	SlotTs        time.Time `gorm:"not null;uniqueIndex:uq_weather_hourly_entity_slot"`
	Latitude      float64   `gorm:"not null"`
	Longitude     float64   `gorm:"not null"`
	Timezone      string    `gorm:"size:64;not null"`
	Temperature2M *float64  `gorm:"column:temperature_2m"`
	Precipitation *float64  `gorm:"column:precipitation"`
	WindSpeed10M  *float64  `gorm:"column:wind_speed_10m"`
	IngestedAt    time.Time `gorm:"not null"`
}

// TableName maps Observation onto the warehouse table.
func (Observation) TableName() string {
	return "weather_hourly"
}

// IngestLedger records one successfully loaded object. The object key is the
// primary key, so a replayed load of the same object is detected before any
// row work happens.
type IngestLedger struct {
	ObjectKey    string    `gorm:"primaryKey;size:512"`
	SourceBucket string    `gorm:"size:128;not null"`
	Fingerprint  string    `gorm:"size:64;not null"`
	RowsLoaded   int       `gorm:"not null"`
	LoadedAt     time.Time `gorm:"not null"`
}

// TableName maps IngestLedger onto the ledger table.
func (IngestLedger) TableName() string {
	return "ingest_ledger"
}
