package validate

import (
	"fmt"
	"strings"

	"sensor-etl/internal/record"
)

// Reason names why a record was filtered.
type Reason string

const (
	BlankName          Reason = "blank name"
	MissingTimestamp   Reason = "missing timestamp"
	MissingTemperature Reason = "missing temperature"
)

// Rejection is returned by Validate for a record that must not be written.
type Rejection struct {
	Record record.Record
	Reason Reason
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("record filtered: %s (%s)", r.Reason, r.Record)
}

// Validate passes complete records through unchanged. An incomplete record is
// dropped with a *Rejection naming the first missing field.
func Validate(r record.Record) (record.Record, error) {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return record.Record{}, &Rejection{Record: r, Reason: BlankName}
	case !r.HasTimestamp():
		return record.Record{}, &Rejection{Record: r, Reason: MissingTimestamp}
	case !r.HasTemperature():
		return record.Record{}, &Rejection{Record: r, Reason: MissingTemperature}
	}
	return r, nil
}
