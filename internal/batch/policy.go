package batch

import (
	"errors"

	"sensor-etl/internal/parser"
	"sensor-etl/internal/report"
	"sensor-etl/internal/sink"
	"sensor-etl/internal/validate"
)

// Action is what the orchestrator does with a failure.
type Action int

const (
	// ActionSkip drops the offending record and continues.
	ActionSkip Action = iota
	// ActionFail fails the chunk and the run.
	ActionFail
)

func (a Action) String() string {
	if a == ActionSkip {
		return "skip"
	}
	return "fail"
}

// SkipPolicy decides whether a failure is confined to one record.
type SkipPolicy interface {
	Classify(stage report.Stage, err error) Action
}

// PolicyFunc adapts a function to SkipPolicy.
type PolicyFunc func(stage report.Stage, err error) Action

func (f PolicyFunc) Classify(stage report.Stage, err error) Action { return f(stage, err) }

// DefaultPolicy skips parse failures, validation rejections and records the
// store refused for their values, with no limit on the number of skips.
// Everything else fails the run.
type DefaultPolicy struct{}

func (DefaultPolicy) Classify(_ report.Stage, err error) Action {
	var (
		failure   *parser.Failure
		rejection *validate.Rejection
		itemErr   sink.ItemError
	)
	switch {
	case errors.As(err, &failure), errors.As(err, &rejection), errors.As(err, &itemErr):
		return ActionSkip
	}
	return ActionFail
}
