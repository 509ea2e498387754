// Package postgres registers the PostgreSQL dialector with the database
// package. Import it for its side effect to enable "postgres" connections.
package postgres

import (
	"fmt"

	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/database"
)

func init() {
	database.RegisterDialector("postgres", newDialector)
}

func newDialector(cfg database.Config) (gorm.Dialector, error) {
	if cfg.Host == "" || cfg.Database == "" {
		return nil, fmt.Errorf("postgres config requires host and database")
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
	return gormpostgres.Open(dsn), nil
}
