// Package config provides structures and utilities for loading the ETL
// pipeline configuration from an embedded YAML document, a .env file and
// environment variables.
package config

// EmbeddedConfig holds the raw bytes of the configuration file, typically
// passed from main.go via go:embed.
type EmbeddedConfig []byte

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// EntityConfig describes one geographic entity observations are collected
// for. Entities are immutable and configured at process start; the name is
// the unique key.
type EntityConfig struct {
	Name      string  `yaml:"name" validate:"required"`
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
}

// ProviderConfig holds the Open-Meteo client settings.
type ProviderConfig struct {
	// ForecastEndpoint is the base URL of the forecast API.
	ForecastEndpoint string `yaml:"forecast_endpoint" validate:"required,url"`
	// ArchiveEndpoint is the base URL of the archive API, used for slots
	// older than the forecast horizon.
	ArchiveEndpoint string `yaml:"archive_endpoint" validate:"required,url"`
	// APIKey is an optional commercial API key.
	APIKey string `yaml:"api_key"`
	// TimeoutSeconds bounds every provider request.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gt=0"`
	// ArchiveCutoffHours is the age beyond which slots are fetched from the
	// archive API instead of the forecast API.
	ArchiveCutoffHours int `yaml:"archive_cutoff_hours" validate:"gte=0"`
}

// PipelineConfig holds the reconciliation core's tunables.
type PipelineConfig struct {
	// BatchSize is the maximum number of slots grouped into one provider
	// request (bound B).
	BatchSize int `yaml:"batch_size" validate:"gt=0"`
	// LookbackHours is the trailing window length for the regular
	// extraction run.
	LookbackHours int `yaml:"lookback_hours" validate:"gt=0"`
	// BackfillLookbackHours is the window length the backfill run scans
	// for gaps.
	BackfillLookbackHours int `yaml:"backfill_lookback_hours" validate:"gt=0"`
	// Workers bounds the number of entities processed concurrently per stage.
	Workers int `yaml:"workers" validate:"gt=0"`
	// LoadFileLimit optionally caps the number of objects a sweep load
	// processes in one run. Zero means no cap.
	LoadFileLimit int `yaml:"load_file_limit" validate:"gte=0"`
	// DatabaseRef is the name of the database connection holding the
	// queryable store and the ingest ledger.
	DatabaseRef string `yaml:"database_ref" validate:"required"`
	// StorageRef is the name of the storage connection holding the raw
	// partitioned objects.
	StorageRef string `yaml:"storage_ref" validate:"required"`
	// Bucket is the object store bucket raw objects are written to.
	Bucket string `yaml:"bucket" validate:"required"`
	// Prefix is the key prefix under which raw objects are partitioned.
	Prefix string `yaml:"prefix" validate:"required"`
}

// ExportConfig holds the parquet export settings.
type ExportConfig struct {
	// StorageRef is the storage connection exports are written to.
	StorageRef string `yaml:"storage_ref"`
	// Bucket is the destination bucket.
	Bucket string `yaml:"bucket"`
	// OutputBaseDir is the base directory within the bucket.
	OutputBaseDir string `yaml:"output_base_dir"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	// ListenAddr is the address the /metrics endpoint binds to.
	// Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`
}

// TracingConfig holds the OTLP trace exporter settings.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Protocol selects the exporter transport: "http" or "grpc".
	Protocol string `yaml:"protocol" validate:"omitempty,oneof=http grpc"`
	// Endpoint is the collector endpoint (host:port).
	Endpoint string `yaml:"endpoint"`
}

// ScheduleConfig holds the cron expressions for the thin scheduler wrapper.
// The cadences mirror the production schedule: extraction hourly at :00, a
// gap-repairing backfill weekly.
type ScheduleConfig struct {
	ExtractCron  string `yaml:"extract_cron"`
	BackfillCron string `yaml:"backfill_cron"`
}

// ETLConfig holds all configuration under the "etl" top-level key.
type ETLConfig struct {
	System   SystemConfig   `yaml:"system"`
	Provider ProviderConfig `yaml:"provider"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Entities []EntityConfig `yaml:"entities" validate:"required,min=1,dive"`
	Export   ExportConfig   `yaml:"export"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Schedule ScheduleConfig `yaml:"schedule"`
	// Database holds named database connection configurations, decoded per
	// connection by the database package.
	Database map[string]interface{} `yaml:"database" validate:"required"`
	// Storage holds named storage connection configurations, decoded per
	// connection by the storage package.
	Storage map[string]interface{} `yaml:"storage" validate:"required"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	ETL ETLConfig `yaml:"etl"`
}

// NewConfig returns a Config populated with defaults. Values loaded from the
// embedded YAML and the environment override these.
func NewConfig() *Config {
	return &Config{
		ETL: ETLConfig{
			System: SystemConfig{
				Logging: LoggingConfig{Level: "INFO"},
			},
			Provider: ProviderConfig{
				ForecastEndpoint:   "https://api.open-meteo.com/v1/forecast",
				ArchiveEndpoint:    "https://archive-api.open-meteo.com/v1/archive",
				TimeoutSeconds:     30,
				ArchiveCutoffHours: 120,
			},
			Pipeline: PipelineConfig{
				BatchSize:             24,
				LookbackHours:         6,
				BackfillLookbackHours: 168,
				Workers:               4,
				DatabaseRef:           "workload",
				StorageRef:            "raw",
				Bucket:                "raw",
				Prefix:                "weather",
			},
			Schedule: ScheduleConfig{
				ExtractCron:  "0 * * * *",
				BackfillCron: "0 2 * * 0",
			},
		},
	}
}
