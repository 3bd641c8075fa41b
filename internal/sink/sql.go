package sink

import (
	"context"
	"database/sql"
	"fmt"

	"sensor-etl/internal/record"
	"sensor-etl/internal/store"

	"github.com/sirupsen/logrus"
)

// SQLSink writes chunks to a relational store with an insert-if-absent
// statement, one transaction per chunk.
type SQLSink struct {
	db     *store.DB
	insert string
}

// NewSQLSink builds a sink over an already migrated store.
func NewSQLSink(db *store.DB) *SQLSink {
	return &SQLSink{db: db, insert: db.InsertStatement()}
}

// Write commits the chunk in one transaction. Each record's affected row
// count tells whether it was inserted or already present.
//
// When a record is rejected for its own values the transaction is rolled back
// and the chunk is replayed one record per transaction so that only the
// offending records are skipped. Any other error is returned as is.
func (s *SQLSink) Write(ctx context.Context, chunk []record.Record) (Result, error) {
	if len(chunk) == 0 {
		return Result{}, nil
	}

	res, err := s.writeTx(ctx, chunk)
	if err == nil {
		return res, nil
	}
	if !store.IsItemError(err) {
		return Result{}, err
	}

	logrus.Warnf("chunk rejected by store, replaying records one by one | size=%d err=%v", len(chunk), err)
	return s.scan(ctx, chunk)
}

func (s *SQLSink) writeTx(ctx context.Context, chunk []record.Record) (res Result, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logrus.Warnf("rollback failed: %v", rbErr)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return Result{}, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range chunk {
		inserted, err := insert(ctx, stmt, r)
		if err != nil {
			return Result{}, err
		}
		if inserted {
			res.Inserted++
		} else {
			res.Duplicates = append(res.Duplicates, r)
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("failed to commit chunk: %w", err)
	}
	return res, nil
}

// scan writes every record in its own transaction. Records refused for their
// values are collected; a store-level failure stops the scan. If records were
// already committed by then the error is a *PartialError.
func (s *SQLSink) scan(ctx context.Context, chunk []record.Record) (Result, error) {
	var res Result
	for i, r := range chunk {
		one, err := s.writeTx(ctx, []record.Record{r})
		if err != nil {
			if store.IsItemError(err) {
				res.Skipped = append(res.Skipped, ItemError{Index: i, Record: r, Err: err})
				continue
			}
			if i == 0 {
				return Result{}, err
			}
			return res, &PartialError{Committed: i, Err: err}
		}
		res.Inserted += one.Inserted
		res.Duplicates = append(res.Duplicates, one.Duplicates...)
	}
	return res, nil
}

func insert(ctx context.Context, stmt *sql.Stmt, r record.Record) (bool, error) {
	k := r.Key()
	out, err := stmt.ExecContext(ctx, k.Name, k.Timestamp, r.Temperature.Decimal)
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", r, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for %s: %w", r, err)
	}
	return n > 0, nil
}
