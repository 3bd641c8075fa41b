package record

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the ISO local date-time layout used whenever a reading
// timestamp is rendered back to text (duplicate log, skip log, summaries).
const TimestampLayout = "2006-01-02T15:04:05"

// Record is a single sensor reading. It is a value type: the parser builds it
// once from an input line and nothing downstream modifies it.
//
// A zero Timestamp means the timestamp field was absent in the input and an
// invalid Temperature means the temperature field was absent. Both are
// rejected by the validator before reaching the store.
type Record struct {
	Name        string
	Timestamp   time.Time
	Temperature decimal.NullDecimal
}

// Key identifies a reading in the store. Temperature is not part of it.
type Key struct {
	Name      string
	Timestamp time.Time
}

// New builds a complete Record.
func New(name string, ts time.Time, temp decimal.Decimal) Record {
	return Record{
		Name:        name,
		Timestamp:   ts,
		Temperature: decimal.NullDecimal{Decimal: temp, Valid: true},
	}
}

// Key returns the identity of the reading.
func (r Record) Key() Key {
	return Key{Name: r.Name, Timestamp: r.Timestamp}
}

// HasTimestamp reports whether the timestamp field was present.
func (r Record) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// HasTemperature reports whether the temperature field was present.
func (r Record) HasTemperature() bool {
	return r.Temperature.Valid
}

// FormatTimestamp renders the timestamp with TimestampLayout, or "" when absent.
func (r Record) FormatTimestamp() string {
	if !r.HasTimestamp() {
		return ""
	}
	return r.Timestamp.Format(TimestampLayout)
}

// FormatTemperature renders the temperature keeping the scale it was read
// with ("20.0" stays "20.0"), or "" when absent.
func (r Record) FormatTemperature() string {
	if !r.HasTemperature() {
		return ""
	}
	exp := r.Temperature.Decimal.Exponent()
	if exp < 0 {
		return r.Temperature.Decimal.StringFixed(-exp)
	}
	return r.Temperature.Decimal.String()
}

// String is used in log messages.
func (r Record) String() string {
	return fmt.Sprintf("%s@%s(%s)", r.Name, r.FormatTimestamp(), r.FormatTemperature())
}
