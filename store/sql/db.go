package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Dialect maps a driver name to the bun dialect the persistence client
// needs alongside the raw database handle.
func Dialect(driver string) (schema.Dialect, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case DriverPostgres:
		return pgdialect.New(), nil
	case DriverSQLite, "sqlite":
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// OpenDatabase opens a raw database handle for one of the supported
// drivers and returns it with the matching bun dialect.
func OpenDatabase(driver, dsn string) (*sql.DB, schema.Dialect, error) {
	dialect, err := Dialect(driver)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, nil, fmt.Errorf("sqlstore: dsn is required")
	}
	name := strings.TrimSpace(strings.ToLower(driver))
	if name == "sqlite" {
		name = DriverSQLite
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlstore: open %s database: %w", name, err)
	}
	if name == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	return db, dialect, nil
}
