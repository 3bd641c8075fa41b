package store

import (
	"fmt"

	"sensor-etl/internal/config"
)

// MaxNameLength bounds the sensor name column in every dialect.
const MaxNameLength = 64

// Dialect holds the statements that differ between drivers.
type Dialect struct {
	Driver string
	// Numbered reports whether placeholders are $1, $2... instead of ?.
	Numbered bool
}

// DialectFor returns the dialect of a supported driver.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case config.DriverSQLite, config.DriverMySQL:
		return Dialect{Driver: driver}, nil
	case config.DriverPostgres, config.DriverPGX:
		return Dialect{Driver: driver, Numbered: true}, nil
	}
	return Dialect{}, fmt.Errorf("unsupported storage driver: %s", driver)
}

func (d Dialect) placeholders(n int) []any {
	out := make([]any, n)
	for i := range out {
		if d.Numbered {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

// InsertIfAbsent returns a single-row insert that leaves an existing
// (name, datetime) row untouched and reports zero affected rows for it.
func (d Dialect) InsertIfAbsent(table string) string {
	p := d.placeholders(3)
	if d.Driver == config.DriverMySQL {
		return fmt.Sprintf("INSERT IGNORE INTO %s (name, datetime, temp) VALUES (%s, %s, %s)", append([]any{table}, p...)...)
	}
	return fmt.Sprintf("INSERT INTO %s (name, datetime, temp) VALUES (%s, %s, %s) ON CONFLICT (name, datetime) DO NOTHING", append([]any{table}, p...)...)
}

// CreateTable returns the DDL for the readings table.
func (d Dialect) CreateTable(table string) string {
	switch d.Driver {
	case config.DriverMySQL:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(%d) NOT NULL,
	datetime DATETIME(6) NOT NULL,
	temp DECIMAL(10, 2) NOT NULL,
	UNIQUE KEY uq_%s_name_datetime (name, datetime)
)`, table, MaxNameLength, table)
	case config.DriverPostgres, config.DriverPGX:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	name VARCHAR(%d) NOT NULL,
	datetime TIMESTAMP NOT NULL,
	temp NUMERIC(10, 2) NOT NULL,
	UNIQUE (name, datetime)
)`, table, MaxNameLength)
	default:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL CHECK (length(name) <= %d),
	datetime TIMESTAMP NOT NULL,
	temp NUMERIC NOT NULL,
	UNIQUE (name, datetime)
)`, table, MaxNameLength)
	}
}
