package sink

import (
	"context"
	"errors"
	"time"

	"sensor-etl/internal/record"
	"sensor-etl/internal/store"

	"github.com/sirupsen/logrus"
)

// RetrySink decorates another Sink, writing a chunk again when it failed with
// a transient store error (deadlock, busy database, dropped connection). A
// failed chunk has been rolled back and inserts are idempotent, so the retry
// cannot double count. After a *PartialError only the records that were not
// committed yet are written again.
//
// If attempts is < 1, it defaults to 1 (no retries).
// If delayMs is 0, it defaults to 1000ms.
type RetrySink struct {
	inner     Sink
	attempts  int
	delay     time.Duration
	retryable func(error) bool
}

// NewRetrySink wraps inner. The returned value still fulfils the Sink
// interface so it can be used transparently by the orchestrator.
func NewRetrySink(inner Sink, attempts int, delayMs int) Sink {
	if inner == nil {
		return nil
	}
	if attempts < 1 {
		attempts = 1
	}
	if delayMs == 0 {
		delayMs = 1000
	}
	return &RetrySink{
		inner:     inner,
		attempts:  attempts,
		delay:     time.Duration(delayMs) * time.Millisecond,
		retryable: store.IsTransient,
	}
}

// Write forwards the call to the wrapped sink retrying on transient failure.
func (r *RetrySink) Write(ctx context.Context, chunk []record.Record) (Result, error) {
	var (
		total Result
		done  int
		err   error
	)
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var res Result
		res, err = r.inner.Write(ctx, chunk[done:])
		if err == nil {
			total.add(res, done)
			return total, nil
		}
		var partial *PartialError
		if errors.As(err, &partial) {
			total.add(res, done)
			done += partial.Committed
		}
		if !r.retryable(err) {
			return Result{}, err
		}

		logrus.Warnf("sink write failed (attempt %d/%d, %d/%d records committed): %v", attempt, r.attempts, done, len(chunk), err)

		// Wait before next retry unless it's the final attempt.
		if attempt < r.attempts {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}
	return Result{}, err
}
