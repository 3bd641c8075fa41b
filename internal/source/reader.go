package source

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultSkipLines is the number of header lines skipped at the top of every
// input file.
const DefaultSkipLines = 1

// MaxLineSize bounds a single input line. The rest of a longer line is
// discarded and the Line comes back with Truncated set.
const MaxLineSize = 1 << 20

// Line is one raw data line pulled from an input file.
type Line struct {
	// Source is the path of the file the line came from.
	Source string
	// Number is the physical line number inside Source, starting at 1 (the
	// header line included), so the first data row of a file is line 2.
	Number int
	// Text is the line content without the trailing newline, cut at
	// MaxLineSize bytes.
	Text string
	// Truncated is set when the line was longer than MaxLineSize.
	Truncated bool
}

// MultiReader exposes an ordered list of files as a single stream of lines.
// Only one file is open at any time: a file is closed before the next one is
// opened.
type MultiReader struct {
	paths     []string
	skipLines int

	next    int // index of the next path to open
	file    *os.File
	buf     *bufio.Reader
	current string
	lineNo  int
}

// Option customises a MultiReader.
type Option func(*MultiReader)

// WithSkipLines sets how many leading lines of every file are ignored.
func WithSkipLines(n int) Option {
	return func(r *MultiReader) {
		if n >= 0 {
			r.skipLines = n
		}
	}
}

// NewMultiReader builds a reader over the given paths, read in slice order.
// No file is opened until the first call to Next.
func NewMultiReader(paths []string, opts ...Option) *MultiReader {
	r := &MultiReader{
		paths:     append([]string(nil), paths...),
		skipLines: DefaultSkipLines,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next data line. Header lines and blank lines are skipped.
// It returns io.EOF once every file has been consumed; any other error means a
// file could not be opened or read. Content never causes an error.
func (r *MultiReader) Next() (Line, error) {
	for {
		if r.buf == nil {
			if r.next >= len(r.paths) {
				return Line{}, io.EOF
			}
			if err := r.open(r.paths[r.next]); err != nil {
				return Line{}, err
			}
			r.next++
		}

		text, truncated, err := r.readLine()
		if err != nil {
			path := r.current
			if cerr := r.closeCurrent(); cerr != nil && err == io.EOF {
				err = cerr
			}
			if err != io.EOF {
				return Line{}, fmt.Errorf("failed to read %s: %w", path, err)
			}
			continue
		}

		r.lineNo++
		if r.lineNo <= r.skipLines {
			continue
		}
		if truncated {
			logrus.Warnf("line exceeds %d bytes, rest discarded | path=%s line=%d", MaxLineSize, r.current, r.lineNo)
		} else if strings.TrimSpace(text) == "" {
			continue
		}
		return Line{Source: r.current, Number: r.lineNo, Text: text, Truncated: truncated}, nil
	}
}

// readLine returns the next line of the open file without its line ending.
// Bytes past MaxLineSize are read and dropped. It returns io.EOF only when the
// file has no more data.
func (r *MultiReader) readLine() (string, bool, error) {
	var (
		line      []byte
		truncated bool
	)
	for {
		frag, err := r.buf.ReadSlice('\n')
		if err == nil {
			frag = bytes.TrimSuffix(frag[:len(frag)-1], []byte{'\r'})
		}
		if room := MaxLineSize - len(line); len(frag) > room {
			frag = frag[:room]
			truncated = true
		}
		line = append(line, frag...)

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && (len(line) > 0 || truncated):
			// Last line without a trailing newline.
		case err != nil:
			return "", false, err
		}
		return strings.TrimSuffix(string(line), "\r"), truncated, nil
	}
}

// Close releases the currently open file, if any. It is safe to call more
// than once.
func (r *MultiReader) Close() error {
	r.next = len(r.paths)
	return r.closeCurrent()
}

func (r *MultiReader) open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input file %s: %w", path, err)
	}
	r.file = f
	r.buf = bufio.NewReaderSize(f, 64*1024)
	r.current = path
	r.lineNo = 0
	logrus.Debugf("opened input file | path=%s", path)
	return nil
}

func (r *MultiReader) closeCurrent() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	logrus.Debugf("closed input file | path=%s lines=%d", r.current, r.lineNo)
	r.file = nil
	r.buf = nil
	r.current = ""
	r.lineNo = 0
	if err != nil {
		return fmt.Errorf("failed to close input file: %w", err)
	}
	return nil
}
