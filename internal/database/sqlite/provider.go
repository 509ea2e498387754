// Package sqlite registers the SQLite dialector with the database package.
// Import it for its side effect to enable "sqlite" connections. SQLite is
// primarily used by tests and local development.
package sqlite

import (
	"fmt"

	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/database"
)

func init() {
	database.RegisterDialector("sqlite", newDialector)
}

func newDialector(cfg database.Config) (gorm.Dialector, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("sqlite config requires a database path (or :memory:)")
	}
	return gormsqlite.Open(cfg.Database), nil
}
