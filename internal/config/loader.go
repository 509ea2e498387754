package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/exception"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

const moduleName = "config"

// LoadConfig loads configuration from the embedded YAML document and the
// environment. It is expected to be called once during startup.
//
// The load order is: defaults from NewConfig, then the embedded YAML with
// ${VAR} placeholders expanded from the environment (a .env file is loaded
// first when present). The resulting configuration is validated and a
// validation failure aborts startup; a partially configured pipeline must
// never run.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Debugf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	expanded, err := NewOsEnvironmentExpander().Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewETLError(moduleName, "failed to expand environment variables in embedded config", err, false)
	}

	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewETLError(moduleName, "failed to unmarshal embedded config", err, false)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.ETL.System.Logging.Level)
	return cfg, nil
}

// Validate checks the configuration for missing or out-of-range values.
// Validation is structural only; connectivity is not probed here.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return exception.NewETLError(moduleName, "configuration validation failed", err, false)
	}

	if _, ok := cfg.ETL.Database[cfg.ETL.Pipeline.DatabaseRef]; !ok {
		return exception.NewETLErrorf(moduleName, "pipeline.database_ref %q has no matching entry under etl.database", cfg.ETL.Pipeline.DatabaseRef)
	}
	if _, ok := cfg.ETL.Storage[cfg.ETL.Pipeline.StorageRef]; !ok {
		return exception.NewETLErrorf(moduleName, "pipeline.storage_ref %q has no matching entry under etl.storage", cfg.ETL.Pipeline.StorageRef)
	}

	seen := make(map[string]struct{}, len(cfg.ETL.Entities))
	for _, e := range cfg.ETL.Entities {
		if _, dup := seen[e.Name]; dup {
			return exception.NewETLErrorf(moduleName, "duplicate entity name %q", e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return nil
}
