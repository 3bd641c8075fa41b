package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"sensor-etl/internal/record"
	"sensor-etl/internal/source"

	"github.com/shopspring/decimal"
)

// FieldCount is the number of fields every data line must carry:
// name, timestamp and temperature.
const FieldCount = 3

// DefaultLayouts are the accepted timestamp layouts, tried in order. Go
// accepts fractional seconds after the seconds field even when the layout
// does not mention them.
var DefaultLayouts = []string{
	record.TimestampLayout,
	"2006-01-02T15:04",
}

var (
	// ErrFieldCount is the reason used when a line does not split into
	// exactly FieldCount fields.
	ErrFieldCount = errors.New("incorrect number of fields")
	// ErrTimestamp is the reason used when the timestamp cannot be parsed.
	ErrTimestamp = errors.New("invalid timestamp")
	// ErrTemperature is the reason used when the temperature is not numeric.
	ErrTemperature = errors.New("invalid temperature")
	// ErrLineTooLong is the reason used for a line the reader had to cut.
	ErrLineTooLong = fmt.Errorf("line longer than %d bytes", source.MaxLineSize)
)

// Failure describes a line that could not be turned into a Record. It is an
// item-level problem: the line is skipped and reading continues.
type Failure struct {
	Source string
	Line   int
	Raw    string
	Reason error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("parsing error at line %d in %s, input=[%s]: %v", f.Line, f.Source, f.Raw, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Reason }

// Parser turns delimited lines into Records.
type Parser struct {
	delimiter rune
	layouts   []string
	location  *time.Location
}

// Option customises a Parser.
type Option func(*Parser)

// WithDelimiter sets the field delimiter. The default is a comma.
func WithDelimiter(d rune) Option {
	return func(p *Parser) {
		if d != 0 {
			p.delimiter = d
		}
	}
}

// WithLayouts replaces the accepted timestamp layouts.
func WithLayouts(layouts ...string) Option {
	return func(p *Parser) {
		if len(layouts) > 0 {
			p.layouts = append([]string(nil), layouts...)
		}
	}
}

// WithLocation sets the zone timestamps are interpreted in. Input timestamps
// carry no offset; the default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.location = loc
		}
	}
}

// New builds a Parser with the given options applied over the defaults.
func New(opts ...Option) *Parser {
	p := &Parser{
		delimiter: ',',
		layouts:   DefaultLayouts,
		location:  time.UTC,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse converts one line. An empty temperature is not a failure: the Record
// is returned with the field absent and it is up to the validator to filter
// it. Every other malformation, an empty timestamp included, yields a
// *Failure.
func (p *Parser) Parse(line source.Line) (record.Record, error) {
	if line.Truncated {
		return record.Record{}, p.fail(line, ErrLineTooLong)
	}
	fields, err := p.split(line.Text)
	if err != nil {
		return record.Record{}, p.fail(line, err)
	}
	if len(fields) != FieldCount {
		return record.Record{}, p.fail(line, fmt.Errorf("%w: expected %d, actual %d", ErrFieldCount, FieldCount, len(fields)))
	}

	name := strings.TrimSpace(fields[0])
	rawTS := strings.TrimSpace(fields[1])
	rawTemp := strings.TrimSpace(fields[2])

	ts, err := p.parseTimestamp(rawTS)
	if err != nil {
		return record.Record{}, p.fail(line, err)
	}
	rec := record.Record{Name: name, Timestamp: ts}

	if rawTemp != "" {
		temp, err := decimal.NewFromString(rawTemp)
		if err != nil {
			return record.Record{}, p.fail(line, fmt.Errorf("%w '%s'", ErrTemperature, rawTemp))
		}
		rec.Temperature = decimal.NullDecimal{Decimal: temp, Valid: true}
	}

	return rec, nil
}

func (p *Parser) split(text string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = p.delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return r.Read()
}

func (p *Parser) parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range p.layouts {
		if ts, err := time.ParseInLocation(layout, raw, p.location); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w '%s'", ErrTimestamp, raw)
}

func (p *Parser) fail(line source.Line, reason error) *Failure {
	return &Failure{Source: line.Source, Line: line.Number, Raw: line.Text, Reason: reason}
}
