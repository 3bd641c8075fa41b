package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// maxNameCollisions bounds the -N suffixes tried for one timestamped name.
const maxNameCollisions = 100

// sideLog is an append-only, pipe-delimited file. Every row is flushed as
// soon as it is written so a crashed run still leaves a complete log.
type sideLog struct {
	path   string
	file   *os.File
	writer *csv.Writer
}

// createSideLog creates <dir>/<prefix>-<stamp>.log exclusively, falling back
// to <prefix>-<stamp>-1.log, -2 and so on when the name is taken, and writes
// the header line.
func createSideLog(dir, prefix, stamp, header string) (*sideLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	var (
		f   *os.File
		fp  string
		err error
	)
	for i := 0; i < maxNameCollisions; i++ {
		name := fmt.Sprintf("%s-%s.log", prefix, stamp)
		if i > 0 {
			name = fmt.Sprintf("%s-%s-%d.log", prefix, stamp, i)
		}
		fp = filepath.Join(dir, name)
		f, err = os.OpenFile(fp, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil || !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s log: %w", prefix, err)
	}

	if _, err := fmt.Fprintln(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header to %s: %w", fp, err)
	}

	w := csv.NewWriter(f)
	w.Comma = '|'
	return &sideLog{path: fp, file: f, writer: w}, nil
}

func (l *sideLog) write(row ...string) error {
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write to %s: %w", l.path, err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", l.path, err)
	}
	return nil
}

func (l *sideLog) close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.writer.Flush()
	err := l.writer.Error()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
