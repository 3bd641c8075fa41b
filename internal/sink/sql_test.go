package sink

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sensor-etl/internal/config"
	"sensor-etl/internal/record"
	"sensor-etl/internal/store"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *store.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "sink.db")
	db, err := store.Open(context.Background(), config.StorageConfig{Driver: config.DriverSQLite, DSN: dsn}, config.RetryConfig{Attempts: 1, DelayMS: 1})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func reading(name string, minute int, temp string) record.Record {
	return record.New(name, time.Date(2024, 1, 15, 10, minute, 0, 0, time.UTC), decimal.RequireFromString(temp))
}

func count(t *testing.T, db *store.DB) int64 {
	t.Helper()
	n, err := db.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestSQLSinkIdentifiesDuplicatesWithinAndAcrossChunks(t *testing.T) {
	db := newTestSQLiteStore(t)
	s := NewSQLSink(db)
	ctx := context.Background()

	a, b, c := reading("A", 1, "20.0"), reading("B", 2, "21.0"), reading("C", 3, "22.0")

	res, err := s.Write(ctx, []record.Record{a, b, a, c})
	require.NoError(t, err)
	require.Equal(t, 3, res.Inserted)
	require.Equal(t, []record.Record{a}, res.Duplicates)
	require.Empty(t, res.Skipped)

	// A second write of the same keys inserts nothing, whatever the temperature.
	res, err = s.Write(ctx, []record.Record{reading("A", 1, "99.9"), b})
	require.NoError(t, err)
	require.Zero(t, res.Inserted)
	require.Len(t, res.Duplicates, 2)

	require.EqualValues(t, 3, count(t, db))
}

func TestSQLSinkEmptyChunk(t *testing.T) {
	res, err := NewSQLSink(newTestSQLiteStore(t)).Write(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
}

func TestSQLSinkScanModeSkipsOnlyOffendingRecords(t *testing.T) {
	db := newTestSQLiteStore(t)
	s := NewSQLSink(db)

	long := reading(strings.Repeat("n", store.MaxNameLength+1), 5, "1.0")
	a, b := reading("A", 1, "20.0"), reading("B", 2, "21.0")

	res, err := s.Write(context.Background(), []record.Record{a, long, b, a})
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)
	require.Equal(t, []record.Record{a}, res.Duplicates)
	require.Len(t, res.Skipped, 1)
	require.Equal(t, long, res.Skipped[0].Record)
	require.Equal(t, 1, res.Skipped[0].Index)
	require.True(t, store.IsItemError(res.Skipped[0]))

	require.EqualValues(t, 2, count(t, db))
}

func TestSQLSinkStoreFailureIsFatalAndRollsBack(t *testing.T) {
	db := newTestSQLiteStore(t)
	s := NewSQLSink(db)
	_, err := db.Exec("DROP TABLE temperature_data")
	require.NoError(t, err)

	_, err = s.Write(context.Background(), []record.Record{reading("A", 1, "20.0")})
	require.Error(t, err)
	require.False(t, store.IsItemError(err))
}

type flakySink struct {
	failures int
	err      error
	calls    int
}

func (f *flakySink) Write(_ context.Context, chunk []record.Record) (Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return Result{}, f.err
	}
	return Result{Inserted: len(chunk)}, nil
}

func TestRetrySinkRetriesTransientErrors(t *testing.T) {
	inner := &flakySink{failures: 2, err: sqlite3.Error{Code: sqlite3.ErrBusy}}
	s := NewRetrySink(inner, 3, 1)

	res, err := s.Write(context.Background(), []record.Record{reading("A", 1, "1")})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	require.Equal(t, 3, inner.calls)
}

func TestRetrySinkGivesUp(t *testing.T) {
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	inner := &flakySink{failures: 5, err: busy}
	_, err := NewRetrySink(inner, 2, 1).Write(context.Background(), nil)
	require.ErrorIs(t, err, busy)
	require.Equal(t, 2, inner.calls)
}

func TestRetrySinkDoesNotRetryPermanentErrors(t *testing.T) {
	boom := errors.New("table missing")
	inner := &flakySink{failures: 5, err: boom}
	_, err := NewRetrySink(inner, 3, 1).Write(context.Background(), nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, inner.calls)

	require.Nil(t, NewRetrySink(nil, 3, 1))
}

// resumingSink commits the first two records of the first chunk it sees
// before losing the store, then writes whatever it is given.
type resumingSink struct {
	chunks [][]record.Record
}

func (s *resumingSink) Write(_ context.Context, chunk []record.Record) (Result, error) {
	s.chunks = append(s.chunks, chunk)
	if len(s.chunks) == 1 {
		res := Result{Inserted: 1, Skipped: []ItemError{{Index: 1, Record: chunk[1], Err: errors.New("too long")}}}
		return res, &PartialError{Committed: 2, Err: sqlite3.Error{Code: sqlite3.ErrBusy}}
	}
	return Result{Inserted: 1, Skipped: []ItemError{{Index: 0, Record: chunk[0], Err: errors.New("too long")}}}, nil
}

func TestRetrySinkResumesAfterPartialCommit(t *testing.T) {
	chunk := []record.Record{reading("A", 1, "1"), reading("B", 2, "2"), reading("C", 3, "3"), reading("D", 4, "4")}
	inner := &resumingSink{}

	res, err := NewRetrySink(inner, 2, 1).Write(context.Background(), chunk)
	require.NoError(t, err)
	require.Len(t, inner.chunks, 2)
	require.Equal(t, chunk[2:], inner.chunks[1])

	require.Equal(t, 2, res.Inserted)
	require.Empty(t, res.Duplicates)
	require.Len(t, res.Skipped, 2)
	require.Equal(t, 1, res.Skipped[0].Index)
	require.Equal(t, 2, res.Skipped[1].Index)
	require.Equal(t, chunk[2], res.Skipped[1].Record)
}

func TestPartialErrorIsTransientWhenCauseIs(t *testing.T) {
	err := &PartialError{Committed: 3, Err: sqlite3.Error{Code: sqlite3.ErrBusy}}
	require.True(t, store.IsTransient(err))
	require.False(t, store.IsTransient(&PartialError{Committed: 3, Err: errors.New("gone")}))
}
