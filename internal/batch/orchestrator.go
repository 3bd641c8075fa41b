package batch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sensor-etl/internal/record"
	"sensor-etl/internal/report"
	"sensor-etl/internal/sink"
	"sensor-etl/internal/source"
	"sensor-etl/internal/validate"

	"github.com/sirupsen/logrus"
)

// DefaultChunkSize is the number of accepted records per transaction.
const DefaultChunkSize = 1000

// State is the lifecycle of one chunk.
type State string

const (
	StateFilling     State = "FILLING"
	StateCommitting  State = "COMMITTING"
	StateCommitted   State = "COMMITTED"
	StateChunkFailed State = "CHUNK_FAILED"
)

// ErrStopped is returned when the context was cancelled before the run could
// finish. Cancellation is only observed at chunk boundaries.
var ErrStopped = errors.New("run stopped")

// LineReader yields raw lines and io.EOF at the end of the input.
type LineReader interface {
	Next() (source.Line, error)
}

// LineParser turns a raw line into a record.
type LineParser interface {
	Parse(source.Line) (record.Record, error)
}

// Transition is reported to the observer on every state change.
type Transition struct {
	Chunk int
	State State
	Size  int
}

// Outcome is the result of a run.
type Outcome struct {
	Status report.Status
	Chunks int
}

type Option func(*Orchestrator)

// WithChunkSize sets the number of accepted records per chunk.
func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p SkipPolicy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithObserver registers a callback for chunk state transitions.
func WithObserver(fn func(Transition)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// Orchestrator drives read, parse, validate and write in chunks. Each chunk
// is committed by the sink as one transaction and folded into the run only
// after the commit succeeded.
type Orchestrator struct {
	reader LineReader
	parser LineParser
	sink   sink.Sink
	run    *report.Run

	chunkSize int
	policy    SkipPolicy
	observer  func(Transition)
}

// New builds an orchestrator. The caller owns reader, sink and run and is
// responsible for closing them.
func New(reader LineReader, parser LineParser, sk sink.Sink, run *report.Run, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reader:    reader,
		parser:    parser,
		sink:      sk,
		run:       run,
		chunkSize: DefaultChunkSize,
		policy:    DefaultPolicy{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// entry is an accepted record and the line it came from.
type entry struct {
	rec  record.Record
	line source.Line
}

// Run processes the whole input. It returns StatusCompleted once the input is
// exhausted and the last chunk committed, or StatusFailed with the error that
// stopped the run.
//
// The context is checked before the first chunk and between chunks. A chunk
// being committed always runs to completion.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	out := Outcome{Status: report.StatusFailed}
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("%w before start: %v", ErrStopped, err)
	}

	for n := 1; ; n++ {
		o.transition(n, StateFilling, 0)
		chunk, eof, err := o.fill()
		if err != nil {
			o.transition(n, StateChunkFailed, len(chunk))
			return out, fmt.Errorf("chunk %d: %w", n, err)
		}

		if len(chunk) > 0 {
			o.transition(n, StateCommitting, len(chunk))
			if err := o.commit(ctx, chunk); err != nil {
				o.transition(n, StateChunkFailed, len(chunk))
				return out, fmt.Errorf("chunk %d: %w", n, err)
			}
			o.transition(n, StateCommitted, len(chunk))
			out.Chunks++
			c := o.run.Counters()
			logrus.Infof("[OK] Chunk %d | Records: %d | Read: %d Written: %d Duplicates: %d Errors: %d",
				n, len(chunk), c.Read, c.Written, c.Duplicates, c.Errors)
		}

		if eof {
			out.Status = report.StatusCompleted
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("%w after chunk %d: %v", ErrStopped, n, err)
		}
	}
}

// fill pulls lines until the chunk holds chunkSize accepted records or the
// input ends. Reader errors are always fatal: the reader cannot move past a
// file it failed to open or read.
func (o *Orchestrator) fill() ([]entry, bool, error) {
	chunk := make([]entry, 0, o.chunkSize)
	for len(chunk) < o.chunkSize {
		line, err := o.reader.Next()
		if err == io.EOF {
			return chunk, true, nil
		}
		if err != nil {
			return chunk, false, err
		}
		o.run.CountRead()

		rec, err := o.parser.Parse(line)
		if err != nil {
			if err := o.handle(report.StageRead, line, err); err != nil {
				return chunk, false, err
			}
			continue
		}

		rec, err = validate.Validate(rec)
		if err != nil {
			if err := o.handle(report.StageProcess, line, err); err != nil {
				return chunk, false, err
			}
			continue
		}

		chunk = append(chunk, entry{rec: rec, line: line})
	}
	return chunk, false, nil
}

func (o *Orchestrator) commit(ctx context.Context, chunk []entry) error {
	recs := make([]record.Record, len(chunk))
	for i, e := range chunk {
		recs[i] = e.rec
	}

	res, err := o.sink.Write(context.WithoutCancel(ctx), recs)
	if err != nil {
		return err
	}

	// The chunk is committed from here on; fold it before acting on any
	// policy failure so the counters match the store.
	var failed error
	for _, item := range res.Skipped {
		line := source.Line{Text: item.Record.String()}
		if item.Index >= 0 && item.Index < len(chunk) {
			line = chunk[item.Index].line
		}
		if err := o.handle(report.StageWrite, line, item); err != nil && failed == nil {
			failed = err
		}
	}
	if err := o.run.Commit(res.Inserted, res.Duplicates); err != nil {
		return err
	}
	return failed
}

// handle applies the skip policy to an item-level failure.
func (o *Orchestrator) handle(stage report.Stage, line source.Line, err error) error {
	if o.policy.Classify(stage, err) == ActionFail {
		return fmt.Errorf("%s failure at %s:%d: %w", stage, line.Source, line.Number, err)
	}
	return o.run.Skip(report.SkipEntry{
		Stage:  stage,
		Source: line.Source,
		Line:   line.Number,
		Raw:    line.Text,
		Reason: err,
	})
}

func (o *Orchestrator) transition(chunk int, state State, size int) {
	logrus.Debugf("chunk state | chunk=%d state=%s size=%d", chunk, state, size)
	if o.observer != nil {
		o.observer(Transition{Chunk: chunk, State: state, Size: size})
	}
}
