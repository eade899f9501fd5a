package storage

import (
	"fmt"
	"strings"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Dialect captures the DDL differences between supported databases
type Dialect struct {
	Driver string
}

// DialectFor returns the dialect for a driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
		return Dialect{Driver: driver}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// IdentityColumn returns the column definition for an auto-incrementing primary key
func (d Dialect) IdentityColumn() string {
	if d.Driver == DriverSQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

// Rewrite expands dialect placeholders in a DDL statement.
// {{ID}} becomes the identity column definition.
func (d Dialect) Rewrite(ddl string) string {
	return strings.ReplaceAll(ddl, "{{ID}}", d.IdentityColumn())
}
