package host

import (
	"context"
	"errors"
	"time"

	"github.com/itsmostafa/gocell/internal/snippet"
)

var (
	// ErrSessionHalted is returned by Execute after a run failed to stop
	// within the grace period. The host refuses work until Reset.
	ErrSessionHalted = errors.New("session halted")

	// ErrInterrupted is the cancellation cause of an interrupt request.
	ErrInterrupted = errors.New("execution interrupted")

	// ErrTimedOut is the cancellation cause of an expired deadline.
	ErrTimedOut = errors.New("execution timed out")
)

// Tag identifies the kind of an Outcome.
type Tag int

const (
	TagValue Tag = iota
	TagVoid
	TagCompileFailure
	TagRuntimeFault
	TagTimedOut
	TagInterrupted
)

func (t Tag) String() string {
	switch t {
	case TagValue:
		return "value"
	case TagVoid:
		return "void"
	case TagCompileFailure:
		return "compile-failure"
	case TagRuntimeFault:
		return "runtime-fault"
	case TagTimedOut:
		return "timed-out"
	case TagInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Value is the result of a trailing expression.
type Value struct {
	Type string
	Repr string
	// ReprErr is set when producing Repr failed.
	ReprErr string
}

// Fault is an uncaught error raised by a unit.
type Fault struct {
	// Unit is the index of the unit that raised the fault.
	Unit    int
	Kind    string
	Message string
	// Line and Column locate the innermost frame of this submission,
	// zero when no frame maps back to it.
	Line   int
	Column int
	Offset int
	Stack  []string
}

// Outcome is the tagged result of executing one submission.
type Outcome struct {
	Tag         Tag
	Value       *Value
	Fault       *Fault
	Diagnostics []snippet.Diagnostic
	// Commit reports whether the submission's declarations take effect.
	Commit   bool
	Duration time.Duration
	// Halted is set when the run could not be stopped and the runtime was
	// abandoned.
	Halted bool
}

// CompileFailure builds the outcome of a submission that did not compile.
func CompileFailure(diags []snippet.Diagnostic) Outcome {
	return Outcome{Tag: TagCompileFailure, Diagnostics: diags}
}

func tagFor(cause error) Tag {
	if errors.Is(cause, ErrTimedOut) || errors.Is(cause, context.DeadlineExceeded) {
		return TagTimedOut
	}
	return TagInterrupted
}
