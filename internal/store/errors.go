package store

import (
	"database/sql/driver"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// MySQL server error numbers for values a single row carries.
var mysqlItemErrors = map[uint16]bool{
	1048: true, // column cannot be null
	1264: true, // out of range value
	1292: true, // incorrect datetime value
	1366: true, // incorrect decimal value
	1406: true, // data too long
	3819: true, // check constraint violated
}

var mysqlTransientErrors = map[uint16]bool{
	1205: true, // lock wait timeout
	1213: true, // deadlock
}

// IsItemError reports whether err was caused by the values of the row being
// written rather than by the store itself. Such a row can be skipped while
// the rest of its chunk is committed.
func IsItemError(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlItemErrors[myErr.Number]
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isPostgresItemCode(string(pqErr.Code))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isPostgresItemCode(pgErr.Code)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return true
		}
		return liteErr.Code == sqlite3.ErrMismatch || liteErr.Code == sqlite3.ErrTooBig || liteErr.Code == sqlite3.ErrRange
	}
	return false
}

// Data exceptions (class 22), not-null and check violations.
func isPostgresItemCode(code string) bool {
	if len(code) == 5 && code[:2] == "22" {
		return true
	}
	return code == "23502" || code == "23514"
}

// IsTransient reports whether retrying the same statement may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlTransientErrors[myErr.Number]
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isPostgresTransientCode(string(pqErr.Code))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isPostgresTransientCode(pgErr.Code)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// Serialization failures, deadlocks (class 40) and connection exceptions (08).
func isPostgresTransientCode(code string) bool {
	return len(code) == 5 && (code[:2] == "40" || code[:2] == "08")
}
