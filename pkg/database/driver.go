package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Driver selects the SQL dialect and the registered database/sql driver
type Driver string

const (
	DriverSQLite   Driver = "sqlite3"
	DriverPostgres Driver = "postgres"
)

// ParseDriver accepts the configured driver name
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", name)
	}
}

// SQLDriverName returns the name registered with database/sql
func (d Driver) SQLDriverName() string {
	if d == DriverPostgres {
		return "pgx"
	}
	return "sqlite3"
}

// Rebind rewrites ? placeholders into the driver's native form
func (d Driver) Rebind(query string) string {
	if d != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
