// Package migration applies the embedded SQL schema migrations against the
// warehouse database.
package migration

import (
	"context"
	"database/sql"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/exception"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

const moduleName = "migration"

const migrationsTable = "schema_migrations"

// Migrator runs file-based migrations over a gorm handle.
type Migrator struct {
	db     *gorm.DB
	dbType string
}

// NewMigrator creates a Migrator for the given database type.
func NewMigrator(db *gorm.DB, dbType string) *Migrator {
	return &Migrator{db: db, dbType: dbType}
}

func (m *Migrator) databaseDriver(sqlDB *sql.DB) (migratedb.Driver, error) {
	switch m.dbType {
	case "postgres", "redshift":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: migrationsTable})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: migrationsTable})
	default:
		return nil, exception.NewETLErrorf(moduleName, "unsupported database type for migration: %s", m.dbType)
	}
}

// Up applies all pending migrations found under path inside migrationFS.
// An already up-to-date schema is not an error.
func (m *Migrator) Up(ctx context.Context, migrationFS fs.FS, path string) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return exception.NewETLError(moduleName, "failed to get underlying sql.DB", err, false)
	}

	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return exception.NewETLError(moduleName, "failed to create iofs source driver for "+path, err, false)
	}

	dbDriver, err := m.databaseDriver(sqlDB)
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return exception.NewETLError(moduleName, "failed to create migrate instance", err, false)
	}
	defer instance.Close()

	logger.Infof("Applying migrations from '%s' (%s).", path, m.dbType)
	if err := instance.Up(); err != nil && err != migrate.ErrNoChange {
		return exception.NewETLError(moduleName, "migration failed", err, false)
	}
	logger.Infof("Schema is up to date.")
	return nil
}
