package importer

import (
	"context"
	"fmt"

	"sensor-etl/internal/batch"
	"sensor-etl/internal/config"
	"sensor-etl/internal/parser"
	"sensor-etl/internal/report"
	"sensor-etl/internal/sink"
	"sensor-etl/internal/source"
	"sensor-etl/internal/store"

	"github.com/sirupsen/logrus"
)

// RunOptions customises a single run.
type RunOptions struct {
	// RunID is used for the run instead of a generated one.
	RunID string
	// InputDir overrides the configured input directory.
	InputDir string
	// ChunkSize overrides the configured chunk size when positive.
	ChunkSize int
	// Observer receives chunk state transitions.
	Observer func(batch.Transition)
	// Started is called with the run once its logs are open.
	Started func(*report.Run)
}

// Importer runs imports against one store. Runs must not overlap.
type Importer struct {
	cfg *config.Config
	db  *store.DB
}

// New builds an Importer over an opened and migrated store.
func New(cfg *config.Config, db *store.DB) *Importer {
	return &Importer{cfg: cfg, db: db}
}

// Run opens the configured store, creates the table if needed, imports every
// input file once and closes the store.
func Run(ctx context.Context, cfg *config.Config) (report.Summary, error) {
	fail := func(err error) (report.Summary, error) {
		return report.Summary{Status: report.StatusFailed, Error: err.Error()}, err
	}

	db, err := store.Open(ctx, cfg.Storage, cfg.Retry)
	if err != nil {
		return fail(err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fail(err)
	}
	return New(cfg, db).Run(ctx, RunOptions{})
}

// Run imports every file matching the input pattern. The summary is always
// produced by the run's Finish, including on failure. Input files are renamed
// only when the run completed and renaming is enabled.
func (im *Importer) Run(ctx context.Context, opts RunOptions) (sum report.Summary, err error) {
	in := im.cfg.Input
	if opts.InputDir != "" {
		in.Dir = opts.InputDir
	}
	chunkSize := im.cfg.ChunkSize
	if opts.ChunkSize > 0 {
		chunkSize = opts.ChunkSize
	}

	run, err := report.Start(report.Options{
		LogsDir: im.cfg.Logs.Dir,
		SkipLog: im.cfg.Logs.SkipLog,
		RunID:   opts.RunID,
	})
	if err != nil {
		return report.Summary{RunID: opts.RunID, Status: report.StatusFailed, Error: err.Error()}, err
	}
	if opts.Started != nil {
		opts.Started(run)
	}

	var (
		status = report.StatusFailed
		paths  []string
	)
	defer func() {
		sum = run.Finish(status, err)
		sum.Files = paths
		if status == report.StatusCompleted && in.RenameProcessed {
			source.MarkProcessed(paths)
		}
	}()

	paths, err = source.Discover(in.Dir, in.Pattern)
	if err != nil {
		return sum, err
	}
	if len(paths) == 0 {
		logrus.Warnf("no input files found | dir=%s pattern=%s", in.Dir, in.Pattern)
	}

	reader := source.NewMultiReader(paths, source.WithSkipLines(in.HeaderLines()))
	defer reader.Close()

	p := parser.New(
		parser.WithDelimiter(in.DelimiterRune()),
		parser.WithLayouts(in.TimestampLayouts...),
		parser.WithLocation(in.Location()),
	)
	sk := sink.NewRetrySink(sink.NewSQLSink(im.db), im.cfg.WriteAttempts, im.cfg.Retry.DelayMS)

	logrus.Infof("import started | run=%s files=%d chunk_size=%d driver=%s", run.ID(), len(paths), chunkSize, im.db.Dialect().Driver)

	orch := batch.New(reader, p, sk, run,
		batch.WithChunkSize(chunkSize),
		batch.WithObserver(opts.Observer),
	)
	var out batch.Outcome
	out, err = orch.Run(ctx)
	status = out.Status
	if err != nil {
		err = fmt.Errorf("import failed: %w", err)
	}
	return sum, err
}
