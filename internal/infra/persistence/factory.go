// Package persistence selects a concrete persistent store implementation
// from process environment.
package persistence

import (
	"fmt"
	"os"

	"zonecore/internal/infra/persistence/memory"
	"zonecore/internal/infra/persistence/postgres"
	"zonecore/internal/infra/persistence/sqlite"
	"zonecore/pkg/domain"
)

// Driver identifies a concrete persistent storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Open selects a backend using environment variables. Defaults to sqlite
// when unset.
//
//	ZONECORE_PERSISTENCE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ZONECORE_SQLITE_PATH: path to sqlite file (default ./zonecore.db)
//	ZONECORE_POSTGRES_DSN: postgres DSN when driver=postgres
func Open(engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := os.Getenv("ZONECORE_PERSISTENCE_DRIVER")
	if driver == "" {
		driver = string(DriverSQLite)
	}
	switch Driver(driver) {
	case DriverMemory:
		return memory.NewStore(engine), nil
	case DriverSQLite:
		return sqlite.NewStore(os.Getenv("ZONECORE_SQLITE_PATH"), engine)
	case DriverPostgres:
		ps, err := postgres.NewStore(os.Getenv("ZONECORE_POSTGRES_DSN"), engine)
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown persistence driver %s", driver)
	}
}
