package sink

import (
	"context"
	"fmt"

	"sensor-etl/internal/record"
)

// Result is the outcome of writing one chunk.
type Result struct {
	// Inserted is the number of records that created a new row.
	Inserted int
	// Duplicates are the records whose (name, timestamp) already existed,
	// from an earlier chunk, an earlier run, or earlier in the same chunk.
	Duplicates []record.Record
	// Skipped are records the store refused because of their own values.
	// The rest of the chunk was still committed.
	Skipped []ItemError
}

// ItemError is a write failure attributable to a single record.
type ItemError struct {
	// Index is the record's position in the chunk.
	Index  int
	Record record.Record
	Err    error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("write rejected for %s: %v", e.Record, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// PartialError is returned when a write stopped after its first Committed
// records had already been committed in their own transactions. The Result
// returned with it describes exactly those records.
type PartialError struct {
	Committed int
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("write stopped after %d committed records: %v", e.Committed, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// add folds the outcome of chunk[offset:] into r.
func (r *Result) add(o Result, offset int) {
	r.Inserted += o.Inserted
	r.Duplicates = append(r.Duplicates, o.Duplicates...)
	for _, s := range o.Skipped {
		s.Index += offset
		r.Skipped = append(r.Skipped, s)
	}
}

// Sink defines the behaviour expected from any storage back-end used by the
// orchestrator.
//
// Write persists the chunk atomically: either every record in Result was
// committed (inserted or reported as duplicate) or an error is returned and
// nothing from the chunk was kept. The one exception is a *PartialError,
// where a prefix of the chunk was committed. Writes are idempotent, so a
// failed chunk can be retried or re-imported safely.
type Sink interface {
	Write(ctx context.Context, chunk []record.Record) (Result, error)
}
