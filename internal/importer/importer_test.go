package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sensor-etl/internal/batch"
	"sensor-etl/internal/config"
	"sensor-etl/internal/report"
	"sensor-etl/internal/source"
	"sensor-etl/internal/store"

	"github.com/stretchr/testify/require"
)

const header = "name,datetime,temp\n"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Input.Dir = filepath.Join(dir, "input")
	cfg.Storage.DSN = filepath.Join(dir, "sensor.db")
	cfg.Logs.Dir = filepath.Join(dir, "logs")
	cfg.Logs.SkipLog = true
	cfg.Retry = config.RetryConfig{Attempts: 1, DelayMS: 1}
	require.NoError(t, os.MkdirAll(cfg.Input.Dir, 0o755))
	require.NoError(t, cfg.Validate())
	return cfg
}

func addInput(t *testing.T, cfg *config.Config, name string, rows ...string) string {
	t.Helper()
	p := filepath.Join(cfg.Input.Dir, name)
	require.NoError(t, os.WriteFile(p, []byte(header+strings.Join(rows, "\n")+"\n"), 0o644))
	return p
}

func storedRows(t *testing.T, cfg *config.Config) int64 {
	t.Helper()
	db, err := store.Open(context.Background(), cfg.Storage, cfg.Retry)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestRunAcrossFilesDeduplicates(t *testing.T) {
	cfg := testConfig(t)
	addInput(t, cfg, "a.csv",
		"Sensor1,2024-01-15T10:30:00,20.0",
		"Sensor2,2024-01-15T10:31:00,21.0",
	)
	addInput(t, cfg, "b.csv",
		"Sensor1,2024-01-15T10:30:00,20.5",
		"Sensor3,bad-date,22.0",
		"Sensor3,2024-01-15T10:32:00,22.0",
	)

	sum, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, report.StatusCompleted, sum.Status)
	require.Len(t, sum.Files, 2)
	require.Equal(t, report.Counters{Read: 5, Written: 3, Duplicates: 1, Errors: 1, ParseErrors: 1}, sum.Counters)
	require.EqualValues(t, 3, storedRows(t, cfg))

	skips, err := os.ReadFile(sum.SkipLog)
	require.NoError(t, err)
	require.Contains(t, string(skips), "|read|"+filepath.Join(cfg.Input.Dir, "b.csv")+"|3|")
}

func TestRunTwiceKeepsRowCount(t *testing.T) {
	cfg := testConfig(t)
	rows := make([]string, 15)
	for i := range rows {
		rows[i] = "Sensor" + string(rune('A'+i)) + ",2024-01-15T10:30:00,20.0"
	}
	addInput(t, cfg, "valid_data.csv", rows...)

	first, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.EqualValues(t, 15, first.Counters.Written)

	second, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.EqualValues(t, 0, second.Counters.Written)
	require.EqualValues(t, 15, second.Counters.Duplicates)
	require.EqualValues(t, 15, storedRows(t, cfg))
}

func TestRunHeaderOnlyFile(t *testing.T) {
	cfg := testConfig(t)
	addInput(t, cfg, "empty.csv")

	sum, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, report.StatusCompleted, sum.Status)
	require.Zero(t, sum.Counters.Read)
	require.Zero(t, sum.Counters.Written)
}

func TestRunRenamesOnlyAfterCompletion(t *testing.T) {
	cfg := testConfig(t)
	cfg.Input.RenameProcessed = true
	p := addInput(t, cfg, "a.csv", "Sensor1,2024-01-15T10:30:00,20.0")

	_, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	_, err = os.Stat(p + source.ProcessedSuffix)
	require.NoError(t, err)

	// The renamed file no longer matches the pattern.
	sum, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Empty(t, sum.Files)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := addInput(t, cfg, "b.csv", "Sensor2,2024-01-15T10:30:00,20.0")
	sum, err = Run(ctx, cfg)
	require.Error(t, err)
	require.Equal(t, report.StatusFailed, sum.Status)
	_, err = os.Stat(q)
	require.NoError(t, err)
}

func TestRunMissingInputDirFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Input.Dir = filepath.Join(t.TempDir(), "nope")

	sum, err := Run(context.Background(), cfg)
	require.Error(t, err)
	require.Equal(t, report.StatusFailed, sum.Status)
	require.NotEmpty(t, sum.DuplicateLog)
	require.NotEmpty(t, sum.Error)
}

func TestImporterRunOptions(t *testing.T) {
	cfg := testConfig(t)
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "x.csv"),
		[]byte(header+"S1,2024-01-15T10:30:00,1\nS2,2024-01-15T10:31:00,2\nS3,2024-01-15T10:32:00,3\n"), 0o644))

	db, err := store.Open(context.Background(), cfg.Storage, cfg.Retry)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(context.Background()))

	var started *report.Run
	committed := 0
	sum, err := New(cfg, db).Run(context.Background(), RunOptions{
		RunID:     "fixed-id",
		InputDir:  other,
		ChunkSize: 1,
		Started:   func(r *report.Run) { started = r },
		Observer: func(tr batch.Transition) {
			if tr.State == batch.StateCommitted {
				committed++
			}
		},
	})
	require.NoError(t, err)
	require.Equal(t, "fixed-id", sum.RunID)
	require.NotNil(t, started)
	require.EqualValues(t, 3, sum.Counters.Written)
	require.Equal(t, 3, committed)

	dupLog, err := os.ReadFile(sum.DuplicateLog)
	require.NoError(t, err)
	require.Equal(t, "# Duplicate records detected during run fixed-id\n", string(dupLog))
}
