// Package mysql registers the MySQL dialector with the database package.
// Import it for its side effect to enable "mysql" connections.
package mysql

import (
	"fmt"

	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/database"
)

func init() {
	database.RegisterDialector("mysql", newDialector)
}

func newDialector(cfg database.Config) (gorm.Dialector, error) {
	if cfg.Host == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mysql config requires host and database")
	}
	// parseTime is required so timestamp columns scan into time.Time.
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	return gormmysql.Open(dsn), nil
}
