// Package export writes warehouse observations back out as Parquet files
// in a Hive-partitioned layout for downstream analytics.
package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/load"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/storage"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/exception"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

const moduleName = "parquet_export"

// ObservationRecord is the flattened export shape of one hourly observation.
// Timestamps travel as epoch milliseconds, nullable measurements as OPTIONAL
// parquet fields.
type ObservationRecord struct {
	Entity        string   `parquet:"name=entity,type=BYTE_ARRAY,convertedtype=UTF8"`
	SlotTs        int64    `parquet:"name=slot_ts,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	Latitude      float64  `parquet:"name=latitude,type=DOUBLE"`
	Longitude     float64  `parquet:"name=longitude,type=DOUBLE"`
	Temperature2M *float64 `parquet:"name=temperature_2m,type=DOUBLE,repetitiontype=OPTIONAL"`
	Precipitation *float64 `parquet:"name=precipitation,type=DOUBLE,repetitiontype=OPTIONAL"`
	WindSpeed10M  *float64 `parquet:"name=wind_speed_10m,type=DOUBLE,repetitiontype=OPTIONAL"`
	IngestedAt    int64    `parquet:"name=ingested_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
}

// Exporter reads observations from the warehouse and writes one Parquet
// file per calendar date into the object store.
type Exporter struct {
	db      *gorm.DB
	conn    storage.Connection
	bucket  string
	baseDir string
	now     func() time.Time
}

// NewExporter creates an Exporter writing under baseDir in the given bucket.
func NewExporter(db *gorm.DB, conn storage.Connection, bucket, baseDir string) *Exporter {
	return &Exporter{db: db, conn: conn, bucket: bucket, baseDir: baseDir, now: time.Now}
}

// Export dumps every observation to date-partitioned Parquet files. A date
// group that fails is reported in the returned error but does not stop the
// remaining dates.
func (e *Exporter) Export(ctx context.Context) error {
	var rows []load.Observation
	err := e.db.WithContext(ctx).
		Order("entity ASC, slot_ts ASC").
		Find(&rows).Error
	if err != nil {
		return exception.NewETLError(moduleName, "failed to query observations for export", err, true)
	}
	if len(rows) == 0 {
		logger.Warnf("No observation records to export.")
		return nil
	}
	logger.Infof("Exporting %d observation records.", len(rows))

	records := make([]ObservationRecord, len(rows))
	for i, row := range rows {
		records[i] = ObservationRecord{
			Entity:        row.Entity,
			SlotTs:        row.SlotTs.UTC().UnixMilli(),
			Latitude:      row.Latitude,
			Longitude:     row.Longitude,
			Temperature2M: row.Temperature2M,
			Precipitation: row.Precipitation,
			WindSpeed10M:  row.WindSpeed10M,
			IngestedAt:    row.IngestedAt.UTC().UnixMilli(),
		}
	}

	byDate := make(map[string][]ObservationRecord)
	for _, record := range records {
		dateStr := time.UnixMilli(record.SlotTs).UTC().Format("2006-01-02")
		byDate[dateStr] = append(byDate[dateStr], record)
	}

	var errs error
	for dateStr, group := range byDate {
		if err := e.exportDate(ctx, dateStr, group); err != nil {
			logger.Errorf("Failed to export date %s: %v", dateStr, err)
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func (e *Exporter) exportDate(ctx context.Context, dateStr string, records []ObservationRecord) error {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(ObservationRecord), 1)
	if err != nil {
		return exception.NewETLError(moduleName, "failed to create parquet writer for "+dateStr, err, false)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		if err := pw.Write(record); err != nil {
			return exception.NewETLError(moduleName, "failed to write parquet record for "+dateStr, err, false)
		}
	}
	if err := stopWriter(pw); err != nil {
		return exception.NewETLError(moduleName, "failed to finalize parquet file for "+dateStr, err, false)
	}

	fileName := fmt.Sprintf("weather_hourly_%s_%s.parquet",
		strings.ReplaceAll(dateStr, "-", ""),
		e.now().UTC().Format("150405"))
	objectPath := fmt.Sprintf("%s/dt=%s/%s", e.baseDir, dateStr, fileName)

	if err := e.conn.Upload(ctx, e.bucket, objectPath, buf, "application/x-parquet"); err != nil {
		return exception.NewETLError(moduleName, "failed to upload parquet file "+objectPath, err, true)
	}
	logger.Infof("Exported %d records for date %s to '%s'.", len(records), dateStr, objectPath)
	return nil
}

// stopWriter finalizes the parquet writer. WriteStop can panic inside the
// library on malformed state, so the panic is converted into an error.
func stopWriter(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(error); ok {
				err = perr
				return
			}
			err = fmt.Errorf("parquet writer panic: %v", r)
		}
	}()
	return pw.WriteStop()
}
