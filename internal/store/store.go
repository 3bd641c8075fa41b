package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sensor-etl/internal/config"

	"github.com/sirupsen/logrus"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB is a connection pool bound to one dialect and one readings table.
type DB struct {
	*sql.DB

	dialect Dialect
	table   string
}

// Open connects to the configured store, pinging it with retry support. The
// retry configuration controls the number of attempts and the delay (in
// milliseconds) between them.
func Open(ctx context.Context, cfg config.StorageConfig, retryCfg config.RetryConfig) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if retryCfg.Attempts == 0 {
		retryCfg.Attempts = 3
	}
	if retryCfg.DelayMS == 0 {
		retryCfg.DelayMS = 1500
	}
	table := cfg.Table
	if table == "" {
		table = "temperature_data"
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}
	if cfg.Driver == config.DriverSQLite {
		// One writer; also keeps :memory: databases on a single connection.
		sqlDB.SetMaxOpenConns(1)
	}

	for attempt := 1; attempt <= retryCfg.Attempts; attempt++ {
		err = sqlDB.PingContext(ctx)
		if err == nil {
			logrus.Infof("connected to store | driver=%s table=%s", cfg.Driver, table)
			return &DB{DB: sqlDB, dialect: dialect, table: table}, nil
		}

		logrus.Warnf("store ping failed (attempt %d/%d): %v", attempt, retryCfg.Attempts, err)

		// Don't wait after the final attempt
		if attempt < retryCfg.Attempts {
			select {
			case <-ctx.Done():
				sqlDB.Close()
				return nil, ctx.Err()
			case <-time.After(time.Duration(retryCfg.DelayMS) * time.Millisecond):
			}
		}
	}

	sqlDB.Close()
	return nil, fmt.Errorf("failed to connect to %s store: %w", cfg.Driver, err)
}

// Dialect returns the SQL dialect the pool speaks.
func (db *DB) Dialect() Dialect { return db.dialect }

// Table returns the readings table name.
func (db *DB) Table() string { return db.table }

// Migrate creates the readings table and its uniqueness constraint if they do
// not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, db.dialect.CreateTable(db.table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", db.table, err)
	}
	return nil
}

// InsertStatement returns the insert-if-absent statement for the table.
func (db *DB) InsertStatement() string {
	return db.dialect.InsertIfAbsent(db.table)
}

// Count returns the number of stored readings.
func (db *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+db.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", db.table, err)
	}
	return n, nil
}
