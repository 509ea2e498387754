// Package database opens GORM connections to the queryable store from named
// configuration entries. Dialect support is plugged in through a registry so
// the binary only links the drivers it imports.
package database

import (
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// Config holds the configuration for a single named database connection.
type Config struct {
	Type     string     `yaml:"type"` // "postgres", "mysql" or "sqlite".
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Database string     `yaml:"database"`
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	SSLMode  string     `yaml:"sslmode"`
	Pool     PoolConfig `yaml:"pool"`
}

// DialectorFactory builds a gorm.Dialector from a connection Config.
type DialectorFactory func(cfg Config) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
// Dialect subpackages call this from init; importing a subpackage for its
// side effect enables that dialect.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// getDialectorFactory retrieves the factory registered for the given type.
func getDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// DecodeConfig decodes a raw configuration entry (as unmarshalled from YAML)
// into a Config using its yaml tags.
func DecodeConfig(name string, raw interface{}) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &cfg,
		TagName: "yaml",
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to create decoder for database config '%s': %w", name, err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}
	if cfg.Type == "" {
		return Config{}, fmt.Errorf("database config '%s' has no type", name)
	}
	return cfg, nil
}

// Open establishes a GORM connection for the named configuration entry and
// applies the configured pool settings.
func Open(name string, raw interface{}) (*gorm.DB, error) {
	cfg, err := DecodeConfig(name, raw)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(name, cfg)
}

// OpenWithConfig establishes a GORM connection from an already decoded Config.
func OpenWithConfig(name string, cfg Config) (*gorm.DB, error) {
	factory, err := getDialectorFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", cfg.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection '%s': %w", name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB for '%s': %w", name, err)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}

	logger.Infof("Established new DB connection: %s (%s)", name, cfg.Type)
	return db, nil
}

// Close closes the underlying sql.DB of a GORM handle.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
