package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sensor-etl/internal/config"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(context.Background(), config.StorageConfig{Driver: config.DriverSQLite, DSN: dsn}, config.RetryConfig{Attempts: 1, DelayMS: 1})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func getenvOrSkip(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	db := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	n, err := db.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, "temperature_data", db.Table())
}

func TestSQLiteInsertIfAbsent(t *testing.T) {
	db := newTestSQLiteStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	res, err := db.ExecContext(ctx, db.InsertStatement(), "Sensor1", ts, "20.0")
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	require.EqualValues(t, 1, n)

	// Same key, different temperature: ignored.
	res, err = db.ExecContext(ctx, db.InsertStatement(), "Sensor1", ts, "25.0")
	require.NoError(t, err)
	n, _ = res.RowsAffected()
	require.Zero(t, n)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestSQLiteCheckViolationIsItemError(t *testing.T) {
	db := newTestSQLiteStore(t)
	_, err := db.ExecContext(context.Background(), db.InsertStatement(),
		strings.Repeat("x", MaxNameLength+1), time.Now().UTC(), "1")
	require.Error(t, err)
	require.True(t, IsItemError(err))
	require.False(t, IsTransient(err))
}

func TestOpenGivesUpAfterAttempts(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing", "test.db")
	_, err := Open(context.Background(),
		config.StorageConfig{Driver: config.DriverSQLite, DSN: missing},
		config.RetryConfig{Attempts: 2, DelayMS: 1})
	require.Error(t, err)

	_, err = Open(context.Background(), config.StorageConfig{Driver: "oracle"}, config.RetryConfig{})
	require.Error(t, err)
}

func TestOpenStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx,
		config.StorageConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "missing", "test.db")},
		config.RetryConfig{Attempts: 5, DelayMS: 1000})
	require.Error(t, err)
}

func TestDialectStatements(t *testing.T) {
	my, err := DialectFor(config.DriverMySQL)
	require.NoError(t, err)
	require.Equal(t, "INSERT IGNORE INTO t (name, datetime, temp) VALUES (?, ?, ?)", my.InsertIfAbsent("t"))
	require.Contains(t, my.CreateTable("t"), "UNIQUE KEY")

	pg, err := DialectFor(config.DriverPGX)
	require.NoError(t, err)
	require.Equal(t, "INSERT INTO t (name, datetime, temp) VALUES ($1, $2, $3) ON CONFLICT (name, datetime) DO NOTHING", pg.InsertIfAbsent("t"))

	lite, err := DialectFor(config.DriverSQLite)
	require.NoError(t, err)
	require.Equal(t, "INSERT INTO t (name, datetime, temp) VALUES (?, ?, ?) ON CONFLICT (name, datetime) DO NOTHING", lite.InsertIfAbsent("t"))
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		item      bool
		transient bool
	}{
		{"nil", nil, false, false},
		{"plain", errors.New("boom"), false, false},
		{"mysql out of range", &mysql.MySQLError{Number: 1264}, true, false},
		{"mysql deadlock", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1213}), false, true},
		{"mysql access denied", &mysql.MySQLError{Number: 1045}, false, false},
		{"pq numeric overflow", &pq.Error{Code: "22003"}, true, false},
		{"pq serialization", &pq.Error{Code: "40001"}, false, true},
		{"pq unique violation", &pq.Error{Code: "23505"}, false, false},
		{"pgx string too long", &pgconn.PgError{Code: "22001"}, true, false},
		{"pgx connection", &pgconn.PgError{Code: "08006"}, false, true},
		{"pgx check", &pgconn.PgError{Code: "23514"}, true, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, false, true},
		{"sqlite not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, true, false},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.item, IsItemError(tc.err))
			require.Equal(t, tc.transient, IsTransient(tc.err))
		})
	}
}

func testExternalStore(t *testing.T, driver, envKey string) {
	dsn := getenvOrSkip(t, envKey)
	ctx := context.Background()
	table := fmt.Sprintf("temperature_data_test_%d", time.Now().UnixNano())

	db, err := Open(ctx, config.StorageConfig{Driver: driver, DSN: dsn, Table: table}, config.RetryConfig{Attempts: 1, DelayMS: 1})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))
	defer db.ExecContext(ctx, "DROP TABLE "+table)

	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	for i, want := range []int64{1, 0} {
		res, err := db.ExecContext(ctx, db.InsertStatement(), "Sensor1", ts, "20.0")
		require.NoError(t, err, "insert %d", i)
		n, err := res.RowsAffected()
		require.NoError(t, err)
		require.Equal(t, want, n)
	}

	_, err = db.ExecContext(ctx, db.InsertStatement(), "Sensor2", ts, "123456789012.5")
	if driver != config.DriverMySQL {
		// INSERT IGNORE turns value errors into warnings on MySQL.
		require.True(t, IsItemError(err), "got %v", err)
	}
}

func TestMySQLStore(t *testing.T) {
	testExternalStore(t, config.DriverMySQL, "SENSOR_ETL_MYSQL_DSN")
}

func TestPostgresStore(t *testing.T) {
	testExternalStore(t, config.DriverPostgres, "SENSOR_ETL_POSTGRES_DSN")
}

func TestPGXStore(t *testing.T) {
	testExternalStore(t, config.DriverPGX, "SENSOR_ETL_POSTGRES_DSN")
}
