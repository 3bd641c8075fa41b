package report

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"sensor-etl/internal/record"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Stage is the pipeline step an item-level failure happened in.
type Stage string

const (
	StageRead    Stage = "read"
	StageProcess Stage = "process"
	StageWrite   Stage = "write"
)

// Counters are the per-run totals. Errors is the sum of ParseErrors,
// Filtered and WriteErrors, so Read == Written + Duplicates + Errors holds
// for every completed run.
type Counters struct {
	Read        int64 `json:"read"`
	Written     int64 `json:"written"`
	Duplicates  int64 `json:"duplicates"`
	Errors      int64 `json:"errors"`
	ParseErrors int64 `json:"parse_errors"`
	Filtered    int64 `json:"filtered"`
	WriteErrors int64 `json:"write_errors"`
}

// Balanced reports whether every read record is accounted for.
func (c Counters) Balanced() bool {
	return c.Read == c.Written+c.Duplicates+c.Errors
}

// Summary is the machine readable outcome of a run.
type Summary struct {
	RunID        string    `json:"run_id"`
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Counters     Counters  `json:"counters"`
	DuplicateLog string    `json:"duplicate_log"`
	SkipLog      string    `json:"skip_log,omitempty"`
	Files        []string  `json:"files,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// SkipEntry describes one record removed from the run.
type SkipEntry struct {
	Stage  Stage
	Source string
	Line   int
	Raw    string
	Reason error
}

// Options configures Start.
type Options struct {
	// LogsDir receives the duplicate log and, if enabled, the skip log.
	LogsDir string
	// SkipLog enables the skip log file.
	SkipLog bool
	// RunID overrides the generated run id.
	RunID string
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Run holds everything that lives for exactly one import run: the counters,
// the duplicate log and the skip log. A new Run always starts from zero and
// only the summary survives Finish.
type Run struct {
	id      string
	started time.Time
	now     func() time.Time

	mu       sync.Mutex
	counters Counters
	dupLog   *sideLog
	skipLog  *sideLog
	summary  *Summary
}

// Start opens the run's logs and returns a Run with zeroed counters. Failure
// to create a log is fatal for the run.
func Start(opts Options) (*Run, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LogsDir == "" {
		opts.LogsDir = "logs"
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	started := opts.Now()
	stamp := started.Format("20060102-150405")

	dup, err := createSideLog(opts.LogsDir, "duplicates", stamp,
		"# Duplicate records detected during run "+opts.RunID)
	if err != nil {
		return nil, err
	}

	r := &Run{id: opts.RunID, started: started, now: opts.Now, dupLog: dup}

	if opts.SkipLog {
		skip, err := createSideLog(opts.LogsDir, "skips", stamp,
			"# Records skipped during run "+opts.RunID)
		if err != nil {
			dup.close()
			return nil, err
		}
		r.skipLog = skip
	}

	logrus.Infof("run started | id=%s duplicate_log=%s", r.id, dup.path)
	return r, nil
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// CountRead records one data line produced by the reader.
func (r *Run) CountRead() {
	r.mu.Lock()
	r.counters.Read++
	r.mu.Unlock()
}

// Skip records an item-level failure: it is counted as an error, logged on
// the skip channel and appended to the skip log when enabled.
func (r *Run) Skip(e SkipEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Stage {
	case StageRead:
		r.counters.ParseErrors++
	case StageProcess:
		r.counters.Filtered++
	case StageWrite:
		r.counters.WriteErrors++
	}
	r.counters.Errors++

	reason := ""
	if e.Reason != nil {
		reason = e.Reason.Error()
	}
	logrus.WithFields(logrus.Fields{
		"run":    r.id,
		"stage":  e.Stage,
		"source": e.Source,
		"line":   e.Line,
		"raw":    e.Raw,
	}).Warnf("skipped record: %s", reason)

	if r.skipLog == nil {
		return nil
	}
	return r.skipLog.write(r.stamp(), string(e.Stage), e.Source, strconv.Itoa(e.Line), reason, e.Raw)
}

// Commit folds one committed chunk into the counters and writes a duplicate
// log line for each duplicate. It must only be called once the chunk's
// transaction has committed.
func (r *Run) Commit(inserted int, duplicates []record.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters.Written += int64(inserted)
	for _, d := range duplicates {
		r.counters.Duplicates++
		if err := r.duplicate(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Run) duplicate(d record.Record) error {
	logrus.Debugf("duplicate record | run=%s record=%s", r.id, d)
	if r.dupLog == nil {
		return fmt.Errorf("duplicate log is closed")
	}
	return r.dupLog.write(r.stamp(), d.Name, d.FormatTimestamp(), d.FormatTemperature())
}

// Counters returns a snapshot of the counters. Safe to call while the run is
// in progress; once finished it returns the final totals.
func (r *Run) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summary != nil {
		return r.summary.Counters
	}
	return r.counters
}

// Finish logs the job summary, closes the logs and returns the summary.
// Calling it again returns the first summary.
func (r *Run) Finish(status Status, runErr error) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.summary != nil {
		return *r.summary
	}

	s := Summary{
		RunID:        r.id,
		Status:       status,
		StartedAt:    r.started,
		FinishedAt:   r.now(),
		Counters:     r.counters,
		DuplicateLog: r.dupLog.path,
	}
	if r.skipLog != nil {
		s.SkipLog = r.skipLog.path
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}

	if err := r.dupLog.close(); err != nil {
		logrus.Errorf("failed to close duplicate log: %v", err)
	}
	if err := r.skipLog.close(); err != nil {
		logrus.Errorf("failed to close skip log: %v", err)
	}
	r.dupLog, r.skipLog = nil, nil

	c := s.Counters
	logrus.Infof("Job %s finished with status %s", r.id, status)
	logrus.Info("Job Summary:")
	logrus.Infof(" - Total records processed: %d", c.Read)
	logrus.Infof(" - Successful inserts: %d", c.Written)
	logrus.Infof(" - Duplicates ignored: %d", c.Duplicates)
	logrus.Infof(" - Errors: %d (parse=%d filtered=%d write=%d)", c.Errors, c.ParseErrors, c.Filtered, c.WriteErrors)
	if status == StatusCompleted && !c.Balanced() {
		logrus.Warnf("counters do not balance | read=%d written=%d duplicates=%d errors=%d", c.Read, c.Written, c.Duplicates, c.Errors)
	}

	r.counters = Counters{}
	r.summary = &s
	return s
}

func (r *Run) stamp() string {
	return r.now().Format(record.TimestampLayout)
}
